package pkg

// BlockEntry is one element of a block section: either a *Task to dispatch
// or a nested *Block to descend into.
type BlockEntry interface {
	entryNode()
}

func (*Task) entryNode()  {}
func (*Block) entryNode() {}

// Block groups tasks with optional rescue and always sections. Bare tasks in
// a play are wrapped into implicit blocks at load time so the iterator only
// ever walks blocks.
type Block struct {
	Name   string
	Block  []BlockEntry
	Rescue []BlockEntry
	Always []BlockEntry

	// Implicit marks wrapper blocks synthesized around bare tasks.
	Implicit bool
}

func (b *Block) HasRescue() bool {
	return len(b.Rescue) > 0
}

func (b *Block) HasAlways() bool {
	return len(b.Always) > 0
}

// Tasks returns all tasks in the block and its nested blocks, in order,
// across all three sections.
func (b *Block) Tasks() []*Task {
	var tasks []*Task
	for _, section := range [][]BlockEntry{b.Block, b.Rescue, b.Always} {
		for _, entry := range section {
			switch node := entry.(type) {
			case *Task:
				tasks = append(tasks, node)
			case *Block:
				tasks = append(tasks, node.Tasks()...)
			}
		}
	}
	return tasks
}
