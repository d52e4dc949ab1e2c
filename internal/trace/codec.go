package trace

// Codec encodes trace payloads. The package never interprets payload bytes.
type Codec[E any] interface {
	Encode(item E) ([]byte, error)
	Decode(data []byte) (E, error)
}

// Updater folds delta events into a state set.
type Updater[E, S any] interface {
	// SetState replaces the current state.
	SetState(states []S)

	// Apply folds one event at time t into the state.
	Apply(t int64, event E) error

	// States returns the current state. Callers must not modify it.
	States() []S
}
