package protocol

// InputKind identifies the kind of input event.
type InputKind uint8

const (
	InputMouseMove InputKind = 0x01
	InputMouseDown InputKind = 0x02
	InputMouseUp   InputKind = 0x03
	InputClick     InputKind = 0x04
	InputWheel     InputKind = 0x05
	InputScroll    InputKind = 0x06
	InputKeyboard  InputKind = 0x07
)

// String returns the string representation of the input kind.
func (k InputKind) String() string {
	switch k {
	case InputMouseMove:
		return "MouseMove"
	case InputMouseDown:
		return "MouseDown"
	case InputMouseUp:
		return "MouseUp"
	case InputClick:
		return "Click"
	case InputWheel:
		return "Wheel"
	case InputScroll:
		return "Scroll"
	case InputKeyboard:
		return "Keyboard"
	default:
		return "Unknown"
	}
}

// InputEvent is a client input event in page coordinates.
//
// Wire format:
//
//	[Kind:1][X:f64][Y:f64][DeltaX:f64][DeltaY:f64][Key:str][Text:str][Down:bool]
//
// Unknown kinds decode successfully; the receiver decides what to do with them.
type InputEvent struct {
	Kind   InputKind
	X, Y   float64
	DeltaX float64
	DeltaY float64
	Key    string
	Text   string
	Down   bool
}

// EncodeInputEvent encodes an input event payload.
func EncodeInputEvent(ev *InputEvent) []byte {
	e := NewEncoder()
	e.WriteByte(byte(ev.Kind))
	e.WriteFloat64(ev.X)
	e.WriteFloat64(ev.Y)
	e.WriteFloat64(ev.DeltaX)
	e.WriteFloat64(ev.DeltaY)
	e.WriteString(ev.Key)
	e.WriteString(ev.Text)
	e.WriteBool(ev.Down)
	return e.Bytes()
}

// DecodeInputEvent decodes an input event payload.
func DecodeInputEvent(data []byte) (*InputEvent, error) {
	d := NewDecoder(data)
	kind, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	ev := &InputEvent{Kind: InputKind(kind)}

	for _, dst := range []*float64{&ev.X, &ev.Y, &ev.DeltaX, &ev.DeltaY} {
		if *dst, err = d.ReadFloat64(); err != nil {
			return nil, err
		}
	}
	if ev.Key, err = d.ReadString(); err != nil {
		return nil, err
	}
	if ev.Text, err = d.ReadString(); err != nil {
		return nil, err
	}
	if ev.Down, err = d.ReadBool(); err != nil {
		return nil, err
	}
	return ev, nil
}
