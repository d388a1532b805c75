package feishu

import (
	"strings"
	"time"
)

// TimeLayout is the layout of the trigger time shown on a card.
const TimeLayout = "2006-01-02  15:04:05"

// Message is the body of a custom bot webhook request.
type Message struct {
	Timestamp string `json:"timestamp,omitempty"`
	Sign      string `json:"sign,omitempty"`
	MsgType   string `json:"msg_type"`
	Content   Card   `json:"content"`
}

// Card is a Feishu interactive message card.
// See https://open.feishu.cn/document/ukTMukTMukTM/uEjNwUjLxYDM14SM2ATN.
type Card struct {
	Config   CardConfig `json:"config"`
	Elements []Element  `json:"elements"`
	Header   Header     `json:"header"`
}

type CardConfig struct {
	WideScreenMode bool `json:"wide_screen_mode"`
}

type Header struct {
	Template string `json:"template"`
	Title    Text   `json:"title"`
}

// Text is a text object, Tag is either plain_text or lark_md.
type Text struct {
	Content string `json:"content"`
	Tag     string `json:"tag"`
}

type Element struct {
	Tag     string   `json:"tag"`
	Text    *Text    `json:"text,omitempty"`
	Fields  []Field  `json:"fields,omitempty"`
	Actions []Action `json:"actions,omitempty"`
}

type Field struct {
	IsShort bool `json:"is_short"`
	Text    Text `json:"text"`
}

type Action struct {
	Tag  string `json:"tag"`
	Text Text   `json:"text"`
	Type string `json:"type"`
	URL  string `json:"url"`
}

// Notification is the content of a single error notification.
type Notification struct {
	// Project slug.
	Project     string
	Environment string
	// Error summary, already trimmed.
	Message string
	// Trigger time, the current time is used when zero.
	Time time.Time
	// Link to the event in Sentry.
	DetailsURL string
}

func larkMD(s string) Text {
	return Text{Content: s, Tag: "lark_md"}
}

func field(short bool, s string) Field {
	return Field{IsShort: short, Text: larkMD(s)}
}

// newCard lays out a notification the way the Sentry plugin always has.
func newCard(c Config, n Notification) Card {
	card := Card{
		Config: CardConfig{WideScreenMode: true},
		Header: Header{
			Template: c.Template,
			Title:    Text{Content: c.Title, Tag: "plain_text"},
		},
	}
	card.Elements = append(card.Elements, Element{
		Tag: "div",
		Fields: []Field{
			field(true, "**🗳 系统名称**\n "+n.Project),
			field(true, "**📍 环境信息**\n "+n.Environment),
			field(false, ""),
			field(true, "**🕙 触发时间**\n "+n.Time.Format(TimeLayout)),
			field(true, "**📩 错误摘要**\n "+n.Message),
		},
	})

	var footer []string
	if c.SentryURL != "" {
		footer = append(footer, "😊 Sentry 地址："+c.SentryURL)
	}
	footer = append(footer, c.Info...)
	if len(footer) > 0 {
		text := larkMD(strings.Join(footer, " \n") + " \n\n")
		card.Elements = append(card.Elements, Element{
			Tag:  "div",
			Text: &text,
		})
	}

	if n.DetailsURL != "" {
		card.Elements = append(card.Elements, Element{
			Tag: "action",
			Actions: []Action{{
				Tag:  "button",
				Text: Text{Content: "查看告警详情", Tag: "plain_text"},
				Type: "danger",
				URL:  n.DetailsURL,
			}},
		})
	}
	return card
}
