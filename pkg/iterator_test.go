package pkg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func iteratorPlay(t *testing.T, playbookYAML string) *Play {
	t.Helper()
	plays, err := ParsePlaybook([]byte(playbookYAML))
	require.NoError(t, err)
	return plays[0]
}

func iteratorHosts(names ...string) []*Host {
	hosts := make([]*Host, 0, len(names))
	for _, name := range names {
		hosts = append(hosts, &Host{Name: name})
	}
	return hosts
}

// drain pulls tasks for one host until the iterator reports completion.
func drain(it *PlayIterator, host string) []string {
	var names []string
	for task := it.NextTaskForHost(host); task != nil; task = it.NextTaskForHost(host) {
		names = append(names, task.Name)
	}
	return names
}

func TestPlayIterator_WalksDeclarationOrder(t *testing.T) {
	play := iteratorPlay(t, `
- hosts: web
  gather_facts: false
  tasks:
    - name: one
      echo:
        msg: hi
    - name: grouped
      block:
        - name: two
          echo:
            msg: hi
        - name: nested
          block:
            - name: three
              echo:
                msg: hi
    - name: four
      echo:
        msg: hi
`)
	it := NewPlayIterator(play, iteratorHosts("h1", "h2"))

	assert.Equal(t, []string{"one", "two", "three", "four"}, drain(it, "h1"))

	// Hosts advance independently.
	assert.Equal(t, []string{"one", "two", "three", "four"}, drain(it, "h2"))
	assert.True(t, it.AllComplete())
	assert.Nil(t, it.NextTaskForHost("h1"))
}

func TestPlayIterator_SetupRunsFirst(t *testing.T) {
	play := iteratorPlay(t, `
- hosts: web
  tasks:
    - name: one
      echo:
        msg: hi
`)
	it := NewPlayIterator(play, iteratorHosts("h1"))

	task, pos := it.PeekWithPosition("h1")
	require.NotNil(t, task)
	assert.Same(t, play.SetupTask, task)
	assert.Equal(t, []int{-1}, pos, "setup sorts before every play position")

	assert.Same(t, play.SetupTask, it.NextTaskForHost("h1"))
	next := it.NextTaskForHost("h1")
	require.NotNil(t, next)
	assert.Equal(t, "one", next.Name)
}

func TestPlayIterator_PeekDoesNotAdvance(t *testing.T) {
	play := iteratorPlay(t, `
- hosts: web
  gather_facts: false
  tasks:
    - name: one
      echo:
        msg: hi
    - name: two
      echo:
        msg: hi
`)
	it := NewPlayIterator(play, iteratorHosts("h1"))

	first := it.PeekNextTaskForHost("h1")
	require.NotNil(t, first)
	assert.Equal(t, "one", first.Name)
	assert.Same(t, first, it.PeekNextTaskForHost("h1"), "peeking twice must not move the cursor")
	assert.Same(t, first, it.NextTaskForHost("h1"))

	second := it.PeekNextTaskForHost("h1")
	require.NotNil(t, second)
	assert.Equal(t, "two", second.Name)
}

func TestPlayIterator_FailureRedirectsToRescue(t *testing.T) {
	play := iteratorPlay(t, `
- hosts: web
  gather_facts: false
  tasks:
    - name: guarded
      block:
        - name: risky
          echo:
            msg: hi
        - name: shadowed
          echo:
            msg: hi
      rescue:
        - name: recover
          echo:
            msg: hi
      always:
        - name: cleanup
          echo:
            msg: hi
    - name: after
      echo:
        msg: hi
`)
	it := NewPlayIterator(play, iteratorHosts("h1"))

	assert.Equal(t, "risky", it.NextTaskForHost("h1").Name)
	it.MarkHostFailed("h1")
	assert.True(t, it.IsFailed("h1"))
	assert.Equal(t, FailedTasks, it.FailStateFor("h1"))

	// The remaining block tasks are skipped in favor of the rescue.
	assert.Equal(t, "recover", it.NextTaskForHost("h1").Name)
	assert.Equal(t, StateRescue, it.RunStateFor("h1"))

	// A completed rescue clears the failure; always still runs.
	assert.Equal(t, "cleanup", it.NextTaskForHost("h1").Name)
	assert.False(t, it.IsFailed("h1"))
	assert.True(t, it.DidRescue("h1"))

	assert.Equal(t, "after", it.NextTaskForHost("h1").Name)
	assert.Nil(t, it.NextTaskForHost("h1"))
}

func TestPlayIterator_UnrescuedFailureRunsAlways(t *testing.T) {
	play := iteratorPlay(t, `
- hosts: web
  gather_facts: false
  tasks:
    - name: guarded
      block:
        - name: risky
          echo:
            msg: hi
      always:
        - name: cleanup
          echo:
            msg: hi
    - name: after
      echo:
        msg: hi
`)
	it := NewPlayIterator(play, iteratorHosts("h1"))

	assert.Equal(t, "risky", it.NextTaskForHost("h1").Name)
	it.MarkHostFailed("h1")

	assert.Equal(t, "cleanup", it.NextTaskForHost("h1").Name)
	assert.Equal(t, StateAlways, it.RunStateFor("h1"))

	// Without a rescue the failure sticks and the host unwinds out of the play.
	assert.Nil(t, it.NextTaskForHost("h1"))
	assert.True(t, it.IsFailed("h1"))
	assert.False(t, it.DidRescue("h1"))
	assert.Equal(t, StateComplete, it.RunStateFor("h1"))
}

func TestPlayIterator_RescueFailureEscalates(t *testing.T) {
	play := iteratorPlay(t, `
- hosts: web
  gather_facts: false
  tasks:
    - name: outer
      block:
        - name: inner
          block:
            - name: boom
              echo:
                msg: hi
          rescue:
            - name: inner recover
              echo:
                msg: hi
      rescue:
        - name: outer recover
          echo:
            msg: hi
`)
	it := NewPlayIterator(play, iteratorHosts("h1"))

	assert.Equal(t, "boom", it.NextTaskForHost("h1").Name)
	it.MarkHostFailed("h1")

	assert.Equal(t, "inner recover", it.NextTaskForHost("h1").Name)
	it.MarkHostFailed("h1")
	assert.Equal(t, FailedTasks|FailedRescue, it.FailStateFor("h1"))

	// A failing rescue hands the failure to the enclosing block.
	assert.Equal(t, "outer recover", it.NextTaskForHost("h1").Name)
	assert.Nil(t, it.NextTaskForHost("h1"))
	assert.False(t, it.IsFailed("h1"), "the outer rescue completed")
	assert.True(t, it.DidRescue("h1"))
}

func TestPlayIterator_ClearHostErrors(t *testing.T) {
	play := iteratorPlay(t, `
- hosts: web
  gather_facts: false
  tasks:
    - name: one
      echo:
        msg: hi
`)
	it := NewPlayIterator(play, iteratorHosts("h1"))

	it.NextTaskForHost("h1")
	it.MarkHostFailed("h1")
	require.True(t, it.IsFailed("h1"))
	require.Equal(t, StateComplete, it.RunStateFor("h1"))

	it.ClearHostErrors("h1")
	assert.False(t, it.IsFailed("h1"))
	// Forgiveness does not rewind: the host stays complete.
	assert.Equal(t, StateComplete, it.RunStateFor("h1"))
	assert.Nil(t, it.NextTaskForHost("h1"))
}

func TestPlayIterator_EndHostAndEndPlay(t *testing.T) {
	play := iteratorPlay(t, `
- hosts: web
  gather_facts: false
  tasks:
    - name: one
      echo:
        msg: hi
    - name: two
      echo:
        msg: hi
`)
	it := NewPlayIterator(play, iteratorHosts("h1", "h2"))

	it.EndHost("h1")
	assert.Nil(t, it.NextTaskForHost("h1"))

	remaining := it.RemainingHosts()
	require.Len(t, remaining, 1)
	assert.Equal(t, "h2", remaining[0].Name)
	assert.False(t, it.AllComplete())

	it.EndPlay()
	assert.Nil(t, it.NextTaskForHost("h2"))
	assert.True(t, it.AllComplete())
	assert.Empty(t, it.RemainingHosts())
}

func TestPlayIterator_FailureAfterCompleteIsIgnored(t *testing.T) {
	play := iteratorPlay(t, `
- hosts: web
  gather_facts: false
  tasks:
    - name: one
      echo:
        msg: hi
`)
	it := NewPlayIterator(play, iteratorHosts("h1"))

	drain(it, "h1")
	require.Equal(t, StateComplete, it.RunStateFor("h1"))

	it.MarkHostFailed("h1")
	assert.False(t, it.IsFailed("h1"))
	assert.Equal(t, FailedNone, it.FailStateFor("h1"))
}

func TestPlayIterator_UnknownHost(t *testing.T) {
	play := iteratorPlay(t, `
- hosts: web
  gather_facts: false
  tasks:
    - name: one
      echo:
        msg: hi
`)
	it := NewPlayIterator(play, iteratorHosts("h1"))

	assert.Nil(t, it.NextTaskForHost("ghost"))
	assert.False(t, it.IsFailed("ghost"))
	assert.Equal(t, StateComplete, it.RunStateFor("ghost"))
	assert.Equal(t, FailedNone, it.FailStateFor("ghost"))
}

func TestPeekWithPosition_OrdersHostsByProgress(t *testing.T) {
	play := iteratorPlay(t, `
- hosts: web
  gather_facts: false
  tasks:
    - name: one
      echo:
        msg: hi
    - name: two
      echo:
        msg: hi
`)
	it := NewPlayIterator(play, iteratorHosts("h1", "h2"))

	// h1 pulls ahead by one task.
	it.NextTaskForHost("h1")

	aheadTask, ahead := it.PeekWithPosition("h1")
	behindTask, behind := it.PeekWithPosition("h2")
	assert.Equal(t, "two", aheadTask.Name)
	assert.Equal(t, "one", behindTask.Name)

	assert.Negative(t, ComparePositions(behind, ahead))
	assert.Positive(t, ComparePositions(ahead, behind))

	_, done := it.PeekWithPosition("ghost")
	assert.Nil(t, done)
}
