package domain

// Viewer is a read-only membership entry; ID is the viewer's connection id.
type Viewer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
