package wasm

const initialValueStackHeight = 64

// Frame delimits the value region of one call. Arity is the number of values
// the callee may consume from below the frame; Coarity the number it
// produces above it. ModuleAddr names the instance whose index spaces govern
// the instructions running under this frame.
type Frame struct {
	ModuleAddr uint32
	Arity      uint32
	Coarity    uint32

	// Value stack height at frame entry; PopFrame truncates back to it.
	height int
}

// Stack is the ordered sequence of value and frame entries used by the
// constant-expression evaluator during instantiation. Each Store owns one and
// resets it on instantiation entry. Function calls do not run on it:
// Engine.Call is not handed this stack.
type Stack struct {
	values []Value
	frames []*Frame
}

func NewStack() *Stack {
	return &Stack{values: make([]Value, 0, initialValueStackHeight)}
}

func (s *Stack) PushValue(v Value) {
	s.values = append(s.values, v)
}

// PopValue removes and returns the top value. Popping an empty stack is an
// interpreter bug, so it panics rather than returning an error; the boundary
// of the current frame is not checked.
func (s *Stack) PopValue() Value {
	ret := s.values[len(s.values)-1]
	s.values = s.values[:len(s.values)-1]
	return ret
}

// PushFrame records the current value height and makes the new frame current.
func (s *Stack) PushFrame(moduleAddr, arity, coarity uint32) {
	s.frames = append(s.frames, &Frame{
		ModuleAddr: moduleAddr,
		Arity:      arity,
		Coarity:    coarity,
		height:     len(s.values),
	})
}

// PopFrame carries the frame's coarity results over the frame boundary,
// truncates every other value pushed since frame entry, then discards the
// frame.
func (s *Stack) PopFrame() {
	frame := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]

	results := make([]Value, frame.Coarity)
	for i := int(frame.Coarity) - 1; i >= 0; i-- {
		results[i] = s.PopValue()
	}
	s.values = s.values[:frame.height]
	s.values = append(s.values, results...)
}

// CurrentFrame returns the innermost frame, or nil outside any call.
func (s *Stack) CurrentFrame() *Frame {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

// ValueHeight returns the number of values currently on the stack.
func (s *Stack) ValueHeight() int {
	return len(s.values)
}

func (s *Stack) Reset() {
	s.values = s.values[:0]
	s.frames = s.frames[:0]
}
