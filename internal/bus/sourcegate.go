package bus

// SourceAllowed implements the source gate: a handler runs only when
// either the message carries no destination at all, or one of nativeSources
// appears in context.destination. This prevents a process from acting on
// another host's events when several processes share a bus.
func SourceAllowed(msg Message, nativeSources []string) bool {
	dest := msg.Destination()
	if len(dest) == 0 {
		return true
	}
	for _, d := range dest {
		for _, native := range nativeSources {
			if d == native {
				return true
			}
		}
	}
	return false
}
