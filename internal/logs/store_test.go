package logs

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/charliek/stackscope/internal/analysis"
	"github.com/charliek/stackscope/internal/domain"
	"github.com/charliek/stackscope/internal/stackframe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	stackA = "Game.Player:Die () (at Assets/Player.cs:42)\nGame.Loop:Update () (at Assets/Loop.cs:7)"
	stackB = "Game.Enemy:Spawn () (at Assets/Enemy.cs:3)\nGame.Loop:Update () (at Assets/Loop.cs:7)"
)

func newTestStore() *Store {
	return NewStore(Config{Format: stackframe.FormatInProcess, SubscriptionBuffer: 10})
}

func mustAdd(t *testing.T, s *Store, message, stack string, severity domain.Severity) domain.LogRecord {
	t.Helper()
	r, err := s.Add(message, stack, severity)
	require.NoError(t, err)
	return r
}

func TestStore_AddParsesStack(t *testing.T) {
	s := newTestStore()

	r := mustAdd(t, s, "player died", stackA, domain.SeverityError)

	assert.Equal(t, 0, r.Seq)
	require.Len(t, r.Frames, 2)
	assert.Equal(t, "Game.Player", r.Frames[0].ClassName)
	assert.Equal(t, "Die", r.Frames[0].MethodName)
	assert.Equal(t, 42, r.Frames[0].LineNumber)
	assert.Empty(t, r.Extra)
}

func TestStore_AddRejectsInvalidSeverity(t *testing.T) {
	s := newTestStore()

	_, err := s.Add("x", "", domain.SeverityUnknown)
	assert.ErrorIs(t, err, domain.ErrInvalidSeverity)
	assert.Equal(t, 0, s.Len())
}

func TestStore_DedupInvariant(t *testing.T) {
	s := newTestStore()

	calls := []struct {
		message  string
		stack    string
		severity domain.Severity
	}{
		{"a", stackA, domain.SeverityError},
		{"a", stackA, domain.SeverityError},
		{"a", stackB, domain.SeverityError},
		{"a", stackA, domain.SeverityWarning},
		{"b", "", domain.SeverityInfo},
		{"a", stackA, domain.SeverityError},
		{"b", "", domain.SeverityInfo},
	}
	expected := map[domain.RecordKey]int{}
	for _, c := range calls {
		mustAdd(t, s, c.message, c.stack, c.severity)
		expected[domain.RecordKey{Message: c.message, RawStack: c.stack, Severity: c.severity}]++
	}

	for key, count := range expected {
		assert.Equal(t, count, s.Occurrences(key), "key %+v", key)
	}
	assert.Equal(t, len(expected), s.CollapsedLen())
	assert.Equal(t, len(calls), s.Len())
	assert.Equal(t, 0, s.Occurrences(domain.RecordKey{Message: "never"}))
}

func TestStore_Counts(t *testing.T) {
	s := newTestStore()
	for i := 0; i < 150; i++ {
		mustAdd(t, s, "spam", "", domain.SeverityWarning)
	}
	mustAdd(t, s, "boom", stackA, domain.SeverityError)

	counts := s.Counts()
	assert.Equal(t, 150, counts.Warning)
	assert.Equal(t, 1, counts.Error)
	assert.Equal(t, 0, counts.Info)
	assert.Equal(t, "99+", DisplayCount(counts.Warning, DefaultDisplayCap))
	assert.Equal(t, "1", DisplayCount(counts.Error, DefaultDisplayCap))
	assert.Equal(t, "150", DisplayCount(counts.Warning, 0))
}

func TestStore_FilteredOrderAndCollapse(t *testing.T) {
	s := newTestStore()
	mustAdd(t, s, "a", stackA, domain.SeverityError)
	mustAdd(t, s, "b", "", domain.SeverityInfo)
	mustAdd(t, s, "a", stackA, domain.SeverityError)
	mustAdd(t, s, "c", stackB, domain.SeverityWarning)

	all := s.Filtered(domain.DefaultFilterState(), false)
	require.Len(t, all, 4)
	assert.Equal(t, []int{0, 1, 2, 3}, seqs(all))

	collapsed := domain.DefaultFilterState()
	collapsed.Collapse = true
	got := s.Filtered(collapsed, false)
	assert.Equal(t, []int{0, 1, 3}, seqs(got))

	items := s.Items(collapsed, false)
	require.Len(t, items, 3)
	assert.Equal(t, 2, items[0].Count)
	assert.Equal(t, 1, items[1].Count)
}

func TestStore_FilterIdempotence(t *testing.T) {
	s := newTestStore()
	mustAdd(t, s, "a", stackA, domain.SeverityError)
	mustAdd(t, s, "b", "", domain.SeverityInfo)
	mustAdd(t, s, "a", stackA, domain.SeverityError)

	states := []domain.FilterState{
		domain.DefaultFilterState(),
		{Collapse: true, ShowInfo: true, ShowWarning: true, ShowError: true},
		{ShowError: true, SearchText: "A"},
		{ShowInfo: true, ShowError: true, SearchText: "[", UseRegex: true},
	}
	for _, state := range states {
		first := s.Filtered(state, false)
		second := s.Filtered(state, false)
		assert.Equal(t, first, second, "state %+v", state)
		assert.Equal(t, first, s.Filtered(state, true), "state %+v", state)
	}
}

func TestStore_IncrementalMaintenance(t *testing.T) {
	s := newTestStore()

	plain := domain.FilterState{ShowError: true}
	assert.Empty(t, s.Filtered(plain, false))

	mustAdd(t, s, "a", stackA, domain.SeverityError)
	mustAdd(t, s, "b", "", domain.SeverityInfo)
	mustAdd(t, s, "a", stackA, domain.SeverityError)

	got := s.Filtered(plain, false)
	assert.Equal(t, []int{0, 2}, seqs(got))
	assert.Equal(t, got, s.Filtered(plain, true))

	collapsed := domain.DefaultFilterState()
	collapsed.Collapse = true
	assert.Len(t, s.Filtered(collapsed, false), 2)

	mustAdd(t, s, "a", stackA, domain.SeverityError)
	mustAdd(t, s, "d", stackB, domain.SeverityWarning)

	got = s.Filtered(collapsed, false)
	assert.Equal(t, []int{0, 1, 4}, seqs(got))
	assert.Equal(t, got, s.Filtered(collapsed, true))
}

func TestStore_Clear(t *testing.T) {
	s := newTestStore()
	mustAdd(t, s, "a", stackA, domain.SeverityError)
	mustAdd(t, s, "b", "", domain.SeverityInfo)
	_, err := s.Select(0)
	require.NoError(t, err)
	s.Filtered(domain.DefaultFilterState(), false)

	s.Clear()

	states := []domain.FilterState{
		domain.DefaultFilterState(),
		{Collapse: true, ShowInfo: true, ShowWarning: true, ShowError: true},
		{ShowError: true},
	}
	for _, state := range states {
		assert.Empty(t, s.Filtered(state, true))
	}
	assert.Equal(t, domain.Counts{}, s.Counts())
	assert.Equal(t, 0, s.CollapsedLen())
	_, ok := s.Selected()
	assert.False(t, ok)

	require.NoError(t, s.WithTree(func(tree *analysis.Tree) error {
		assert.Empty(t, tree.Root().Children)
		assert.Equal(t, 0, tree.Total())
		return nil
	}))

	r := mustAdd(t, s, "fresh", "", domain.SeverityInfo)
	assert.Equal(t, 0, r.Seq)
}

func TestStore_TreeReceivesRecords(t *testing.T) {
	s := newTestStore()
	mustAdd(t, s, "a", stackA, domain.SeverityError)
	mustAdd(t, s, "b", stackB, domain.SeverityWarning)
	mustAdd(t, s, "c", "", domain.SeverityInfo)

	require.NoError(t, s.WithTree(func(tree *analysis.Tree) error {
		assert.Equal(t, 3, tree.Total())
		root := tree.Root()
		require.Len(t, root.Children, 2)

		loop, err := tree.Node(root.Children[0])
		require.NoError(t, err)
		assert.Equal(t, "Game.Loop.Update", loop.Label())
		assert.Equal(t, 2, loop.TotalCount())

		unknown, err := tree.Node(root.Children[1])
		require.NoError(t, err)
		assert.True(t, unknown.Unknown)
		return nil
	}))
}

func TestStore_SelectAndSource(t *testing.T) {
	s := newTestStore()
	mustAdd(t, s, "a", stackA, domain.SeverityError)
	mustAdd(t, s, "b", "", domain.SeverityInfo)

	_, err := s.Select(0)
	require.NoError(t, err)
	r, err := s.Select(1)
	require.NoError(t, err)
	assert.True(t, r.Selected)

	first, err := s.Record(0)
	require.NoError(t, err)
	assert.False(t, first.Selected)

	selected, ok := s.Selected()
	require.True(t, ok)
	assert.Equal(t, 1, selected.Seq)

	_, err = s.Select(9)
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)

	path, line, ok, err := s.Source(0, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Assets/Loop.cs", path)
	assert.Equal(t, 7, line)

	_, _, _, err = s.Source(1, 0)
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestStore_Subscribe(t *testing.T) {
	s := newTestStore()
	state := domain.FilterState{Collapse: true, ShowError: true}
	id, ch := s.Subscribe(state)
	defer s.Unsubscribe(id)

	mustAdd(t, s, "a", stackA, domain.SeverityError)
	mustAdd(t, s, "a", stackA, domain.SeverityError)
	mustAdd(t, s, "b", "", domain.SeverityInfo)

	select {
	case r := <-ch:
		assert.Equal(t, "a", r.Message)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected to receive record")
	}
	assert.Len(t, ch, 0)
	assert.Equal(t, 1, s.SubscriberCount())
}

func TestStore_Export(t *testing.T) {
	s := newTestStore()
	mustAdd(t, s, "a", stackA, domain.SeverityError)
	mustAdd(t, s, "b", "", domain.SeverityInfo)
	mustAdd(t, s, "a", stackA, domain.SeverityError)

	var buf bytes.Buffer
	require.NoError(t, s.Export(&buf, nil))
	expected := "[ERROR] a\n" + stackA + "\n\n" +
		"[INFO] b\n\n" +
		"[ERROR] a\n" + stackA + "\n\n"
	assert.Equal(t, expected, buf.String())

	state := domain.FilterState{Collapse: true, ShowError: true}
	buf.Reset()
	require.NoError(t, s.Export(&buf, &state))
	assert.Equal(t, "[ERROR] a (x2)\n"+stackA+"\n\n", buf.String())
}

func TestStore_ExportKeepsCachedView(t *testing.T) {
	s := newTestStore()
	mustAdd(t, s, "a", stackA, domain.SeverityError)
	mustAdd(t, s, "b", "", domain.SeverityWarning)

	state := domain.FilterState{ShowError: true}
	require.Len(t, s.Filtered(state, false), 1)
	cached := s.view

	var buf bytes.Buffer
	require.NoError(t, s.Export(&buf, nil))
	assert.Contains(t, buf.String(), "[WARNING] b")
	assert.Same(t, cached, s.view)
}

func TestStore_ReturnedRecordsAreIndependent(t *testing.T) {
	s := newTestStore()
	mustAdd(t, s, "a", stackA, domain.SeverityError)

	state := domain.DefaultFilterState()
	got := s.Filtered(state, false)
	require.Len(t, got[0].Frames, 2)
	got[0].Frames[0].ClassName = "Tampered"

	items := s.Items(state, false)
	items[0].Record.Frames[1].MethodName = "Tampered"

	r, err := s.Record(0)
	require.NoError(t, err)
	assert.Equal(t, "Game.Player", r.Frames[0].ClassName)
	assert.Equal(t, "Update", r.Frames[1].MethodName)
	assert.Equal(t, "Game.Player", s.Filtered(state, false)[0].Frames[0].ClassName)
}

func TestStore_ExportFileOverwrites(t *testing.T) {
	s := newTestStore()
	mustAdd(t, s, "only", "", domain.SeverityWarning)

	path := filepath.Join(t.TempDir(), "export.txt")
	require.NoError(t, os.WriteFile(path, []byte("stale content that is longer\n"), 0o644))

	require.NoError(t, s.ExportFile(path, nil))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[WARNING] only\n\n", string(data))
}

func TestStore_ExportFileError(t *testing.T) {
	s := newTestStore()
	err := s.ExportFile(filepath.Join(t.TempDir(), "missing", "export.txt"), nil)
	assert.Error(t, err)
}

func TestStore_ConcurrentAddAndFilter(t *testing.T) {
	s := newTestStore()
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = s.Add(fmt.Sprintf("w%d", n), stackA, domain.SeverityError)
			}
		}(i)
	}
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.Filtered(domain.DefaultFilterState(), j%5 == 0)
				s.Counts()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 500, s.Len())
	assert.Equal(t, 5, s.CollapsedLen())
	assert.Len(t, s.Filtered(domain.DefaultFilterState(), true), 500)
	assert.Len(t, s.Filtered(domain.DefaultFilterState(), false), 500)
}

func seqs(records []domain.LogRecord) []int {
	out := make([]int, len(records))
	for i, r := range records {
		out[i] = r.Seq
	}
	return out
}
