// Package order implements the conversational ordering flow: a per-user
// state machine driven by text, button and photo inputs.
package order

import "context"

// InputKind is the shape of an incoming update.
type InputKind int

const (
	InputText InputKind = iota
	InputButton
	InputPhoto
)

// Callback keys used by the flow's inline keyboards.
const (
	CBKind    = "order_kind"
	CBTarget  = "order_target"
	CBMenu    = "order_menu"
	CBQty     = "order_qty"
	CBMore    = "order_more"
	CBConfirm = "order_confirm"
	CBPayment = "order_payment"
	CBCancel  = "order_cancel"
)

// Input is one structured update from the transport. Photo carries a lazy
// fetcher so image bytes are only downloaded when a stage wants them.
type Input struct {
	Kind    InputKind
	Text    string
	Key     string
	Payload string
	Photo   func(ctx context.Context) ([]byte, error)

	// Generation, when non-zero, fences inputs prepared outside the
	// session lock: a mismatch against the live session drops the input.
	Generation uint64
}

// TextInput wraps a plain text message.
func TextInput(text string) Input {
	return Input{Kind: InputText, Text: text}
}

// ButtonInput wraps an inline button press.
func ButtonInput(key, payload string) Input {
	return Input{Kind: InputButton, Key: key, Payload: payload}
}

// PhotoInput wraps a photo upload with a lazy byte fetcher.
func PhotoInput(fetch func(ctx context.Context) ([]byte, error)) Input {
	return Input{Kind: InputPhoto, Photo: fetch}
}

// Button is one inline keyboard button.
type Button struct {
	Label   string
	Key     string
	Payload string
}

// Keyboard describes the markup attached to a reply. Inline and Reply are
// mutually exclusive; Remove hides the current reply keyboard.
type Keyboard struct {
	Inline [][]Button
	Reply  [][]string
	Remove bool
}

// Reply is one outbound message. ImagePath sends a local file, ImageURL a
// remote one; Text doubles as the caption when an image is present.
type Reply struct {
	Text      string
	ImagePath string
	ImageURL  string
	Keyboard  *Keyboard
}

func textReply(text string) Reply {
	return Reply{Text: text}
}

func keyboardReply(text string, kb *Keyboard) Reply {
	return Reply{Text: text, Keyboard: kb}
}
