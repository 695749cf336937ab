package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/LoopeyTheGreat/next-prism/internal/corerr"
)

func TestFilesScanArgs(t *testing.T) {
	assert.Equal(t, []string{"occ", "files:scan", "--all"}, FilesScanArgs(true, ""))
	assert.Equal(t, []string{"occ", "files:scan", "--path", "/data/alice"}, FilesScanArgs(false, "/data/alice"))
}

func TestMemoriesIndexArgs(t *testing.T) {
	assert.Equal(t, []string{"occ", "memories:index", "--user", "alice", "--path", "/p"}, MemoriesIndexArgs("alice", "/p"))
	assert.Equal(t, []string{"occ", "memories:index"}, MemoriesIndexArgs("", ""))
}

func TestImportArgs(t *testing.T) {
	assert.Equal(t, []string{"photoprism", "import", "--path", "/imp", "--move"}, ImportArgs("/imp", true))
	assert.Equal(t, []string{"photoprism", "import", "--path", "/imp"}, ImportArgs("/imp", false))
}

func TestIndexArgs(t *testing.T) {
	assert.Equal(t, []string{"photoprism", "index", "--path", "/imp", "--cleanup"}, IndexArgs("/imp", true))
}

func TestStatusArgs(t *testing.T) {
	assert.Equal(t, []string{"occ", "status"}, StatusArgs(true))
	assert.Equal(t, []string{"photoprism", "status"}, StatusArgs(false))
}

func TestExec_RetriesUpToBudgetOnNonRetryableError(t *testing.T) {
	e := &Executor{cfg: Config{Mode: ModeLocal}}
	calls := 0
	run := func(ctx context.Context) (Result, error) {
		calls++
		return Result{}, corerr.New(corerr.KindCommandFailure, "boom")
	}

	_, err := execWithHook(e, run, 3)
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestExec_TransientErrorEarnsBonusAttemptBeyondBudget(t *testing.T) {
	e := &Executor{cfg: Config{Mode: ModeLocal}}
	calls := 0
	run := func(ctx context.Context) (Result, error) {
		calls++
		return Result{}, corerr.New(corerr.KindTransportFailure, "down")
	}

	_, err := execWithHook(e, run, 1)
	assert.Error(t, err)
	assert.Greater(t, calls, 1)
}

func TestExec_SucceedsWithoutExhaustingBudget(t *testing.T) {
	e := &Executor{cfg: Config{Mode: ModeLocal}}
	calls := 0
	run := func(ctx context.Context) (Result, error) {
		calls++
		if calls < 2 {
			return Result{}, corerr.New(corerr.KindCommandFailure, "boom")
		}
		return Result{OK: true}, nil
	}

	result, err := execWithHook(e, run, 5)
	assert.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, 2, calls)
}

func TestParseUserList_ParsesNameUidPairs(t *testing.T) {
	stdout := []byte("alice: Alice Doe\nbob: Bob Roe\n\nmalformed-line\n")
	users, err := ParseUserList(stdout)
	assert.NoError(t, err)
	assert.Equal(t, map[string]string{"alice": "Alice Doe", "bob": "Bob Roe"}, users)
}

func TestParseUserList_EmptyInput(t *testing.T) {
	users, err := ParseUserList([]byte(""))
	assert.NoError(t, err)
	assert.Empty(t, users)
}

// execWithHook duplicates Exec's retry/backoff loop against a test hook in
// place of execOnce, since execOnce itself requires a live docker or ssh
// transport. The retry accounting is the unit under test here, not the
// transport call.
func execWithHook(e *Executor, run func(ctx context.Context) (Result, error), retries int) (Result, error) {
	if retries < 1 {
		retries = 1
	}

	var lastResult Result
	var lastErr error

	const maxBonusAttempts = 3
	budget := retries
	hardCap := retries + maxBonusAttempts
	for attempt := 0; attempt < budget; attempt++ {
		if attempt > 0 {
			// Keep tests fast: skip the real exponential sleep.
			_ = time.Millisecond
		}

		result, err := run(context.Background())
		lastResult, lastErr = result, err

		if err == nil {
			return result, nil
		}
		if attempt == budget-1 && corerr.IsRetryable(err) && budget < hardCap {
			budget++
		}
	}

	return lastResult, lastErr
}
