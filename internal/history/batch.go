package history

import (
	"fmt"

	"github.com/openreel/engine/internal/timeline"
)

// Batch groups commands into one atomic, reversible unit. If a sub-command
// fails mid-apply, the already-applied prefix is reverted in reverse order
// before the failure is reported, so the model never holds a half-applied
// batch.
type Batch struct {
	Name     string
	Commands []Command
}

func (b *Batch) Describe() string {
	if b.Name != "" {
		return b.Name
	}
	return fmt.Sprintf("batch of %d edits", len(b.Commands))
}

func (b *Batch) Apply(p *timeline.Project) error {
	for i, cmd := range b.Commands {
		if err := cmd.Apply(p); err != nil {
			for j := i - 1; j >= 0; j-- {
				// Rollback of a just-applied prefix operates on state those
				// commands produced, so a failure here is a model bug.
				if rerr := b.Commands[j].Revert(p); rerr != nil {
					return fmt.Errorf("batch rollback failed at %s: %v (original: %w)",
						b.Commands[j].Describe(), rerr, err)
				}
			}
			return fmt.Errorf("batch aborted at %s: %w", cmd.Describe(), err)
		}
	}
	return nil
}

func (b *Batch) Revert(p *timeline.Project) error {
	for i := len(b.Commands) - 1; i >= 0; i-- {
		if err := b.Commands[i].Revert(p); err != nil {
			return fmt.Errorf("batch revert failed at %s: %w", b.Commands[i].Describe(), err)
		}
	}
	return nil
}

// BatchMove moves several clips by a common delta as one unit.
func BatchMove(clipIDs []string, p *timeline.Project, delta float64) *Batch {
	cmds := make([]Command, 0, len(clipIDs))
	for _, id := range clipIDs {
		if _, _, clip := p.FindClip(id); clip != nil {
			cmds = append(cmds, &MoveClip{ClipID: id, NewStart: clip.Start + delta})
		}
	}
	return &Batch{Name: "move clips", Commands: cmds}
}

// BatchDelete deletes several clips as one unit.
func BatchDelete(clipIDs []string) *Batch {
	cmds := make([]Command, 0, len(clipIDs))
	for _, id := range clipIDs {
		cmds = append(cmds, &DeleteClip{ClipID: id})
	}
	return &Batch{Name: "delete clips", Commands: cmds}
}

// BatchDuplicate duplicates several clips as one unit.
func BatchDuplicate(clipIDs []string) *Batch {
	cmds := make([]Command, 0, len(clipIDs))
	for _, id := range clipIDs {
		cmds = append(cmds, &DuplicateClip{ClipID: id})
	}
	return &Batch{Name: "duplicate clips", Commands: cmds}
}
