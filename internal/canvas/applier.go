package canvas

// Renderer draws commands onto a surface. Implementations scale the
// normalised points by the given surface size. Rendering a Clear command
// blanks the surface.
type Renderer interface {
	Render(cmd Command, width, height int)
	ClearSurface(width, height int)
}

// Applier appends commands to the log and draws them on the mounted surface.
// It performs no dedup; callers decide which commands to apply.
type Applier struct {
	log      *Log
	renderer Renderer
	width    int
	height   int
}

// NewApplier returns an applier over a fresh log of the given capacity. No
// surface is mounted: commands are logged but not rendered until Mount.
func NewApplier(limit int) *Applier {
	return &Applier{log: NewLog(limit)}
}

// Log exposes the underlying history.
func (a *Applier) Log() *Log { return a.log }

// Apply appends cmd to the log and renders it if a surface is mounted.
func (a *Applier) Apply(cmd Command) {
	a.log.Append(cmd)
	if a.renderer != nil {
		a.renderer.Render(cmd, a.width, a.height)
	}
}

// ReplaceAll installs cmds as the whole history, keeping at most the most
// recent Cap() entries, and redraws the surface from scratch.
func (a *Applier) ReplaceAll(cmds []Command) {
	a.log.Replace(cmds)
	a.Redraw()
}

// Mount attaches a surface of the given size and replays the log onto it.
func (a *Applier) Mount(r Renderer, width, height int) {
	a.renderer = r
	a.width, a.height = width, height
	a.Redraw()
}

// Unmount detaches the surface. Subsequent applies are log-only.
func (a *Applier) Unmount() {
	a.renderer = nil
}

// Resize records the new surface size and redraws.
func (a *Applier) Resize(width, height int) {
	a.width, a.height = width, height
	a.Redraw()
}

// Redraw clears the surface and replays every retained command in order.
func (a *Applier) Redraw() {
	if a.renderer == nil {
		return
	}
	a.renderer.ClearSurface(a.width, a.height)
	a.log.Each(func(c Command) {
		a.renderer.Render(c, a.width, a.height)
	})
}
