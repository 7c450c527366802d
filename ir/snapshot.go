package ir

// SnapshotEntry records that interpreter stack slot Slot holds the value
// produced by SSA identifier Value, if the trace exits through the
// snapshot that owns this entry.
type SnapshotEntry struct {
	Slot  int32
	Value ID
}

// Snapshot is a deoptimization point (spec §3): a bytecode resume
// address, a logical stack depth, and the set of (slot, value) pairs
// describing every live interpreter slot at this point in the recording.
// The code generator copies every snapshot in Buffer.Snaps into the
// CompiledTrace, whether or not a guard in the final trace references it.
type Snapshot struct {
	ID         int32
	ResumePC   uint32
	StackDepth int32

	// Entries indexes into the owning Buffer's shared entry pool
	// (EntriesStart, EntriesStart+EntriesLen).
	EntriesStart int32
	EntriesLen   int32
}
