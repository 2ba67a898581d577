package render

// InputKind identifies the kind of an input event.
type InputKind string

const (
	InputMouseMove InputKind = "mousemove"
	InputMouseDown InputKind = "mousedown"
	InputMouseUp   InputKind = "mouseup"
	InputClick     InputKind = "click"
	InputWheel     InputKind = "wheel"
	InputScroll    InputKind = "scroll"
	InputKeyboard  InputKind = "keyboard"
)

// Named keys understood by DispatchInput. Any other keyboard event is
// typed as text.
const (
	KeyEnter      = "Enter"
	KeyBackspace  = "Backspace"
	KeyDelete     = "Delete"
	KeyTab        = "Tab"
	KeyEscape     = "Escape"
	KeyArrowLeft  = "ArrowLeft"
	KeyArrowRight = "ArrowRight"
	KeyArrowUp    = "ArrowUp"
	KeyArrowDown  = "ArrowDown"
	KeyBackslash  = `\`
	KeyShift      = "Shift"
)

var pressKeys = map[string]bool{
	KeyEnter:      true,
	KeyBackspace:  true,
	KeyDelete:     true,
	KeyTab:        true,
	KeyEscape:     true,
	KeyArrowLeft:  true,
	KeyArrowRight: true,
	KeyArrowUp:    true,
	KeyArrowDown:  true,
	KeyBackslash:  true,
}

// InputEvent is a client input event in page coordinates.
type InputEvent struct {
	Kind   InputKind
	X, Y   float64
	DeltaY float64
	Key    string
	Text   string
	// Down is the hold state for modifier keys.
	Down bool
}
