package interfaces

// EditGuard is consulted by the file-watch layer before it turns a disk
// change into a whole-page reload. Self-originated writes to a file that is
// being live-edited must never trigger a reload: the editor already reflects
// them.
type EditGuard interface {
	// IsEditing reports whether the path has at least one attached editor.
	IsEditing(path string) bool
	// IsSelfSave reports whether the most recent change to the path was the
	// engine's own autosave flush. The flag is consumed by the query.
	IsSelfSave(path string) bool
}
