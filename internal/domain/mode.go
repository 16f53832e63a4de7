package domain

// Mode is what the broadcaster is currently showing.
type Mode string

const (
	ModeSlides Mode = "slides"
	ModeEvent  Mode = "event"
)

// NormalizeMode maps any unknown input to ModeSlides.
func NormalizeMode(raw string) Mode {
	switch Mode(raw) {
	case ModeSlides, ModeEvent:
		return Mode(raw)
	default:
		return ModeSlides
	}
}
