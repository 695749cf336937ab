// Package executor implements spec.md component F: a single exec(...)
// entry point with two pluggable modes. Local mode is grounded on
// swarmnative-volume-s3's internal/controller/controller.go, which
// constructs a github.com/docker/docker/client.Client via
// client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
// against the local container engine; cluster mode composes internal/proxy
// and internal/sshpool, mirroring mutagen's pkg/agent/transport.go Transport
// interface (Copy/Command/ClassifyError collapsed here into one Exec method
// since spec.md has no file-copy leg, only command execution).
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/sirupsen/logrus"

	"github.com/LoopeyTheGreat/next-prism/internal/corelog"
	"github.com/LoopeyTheGreat/next-prism/internal/corerr"
	"github.com/LoopeyTheGreat/next-prism/internal/proxy"
	"github.com/LoopeyTheGreat/next-prism/internal/sshpool"
)

// Mode selects which transport Executor uses (spec.md §4.F: "chosen once at
// startup by an explicit config flag with auto-detection fallback").
type Mode uint8

const (
	ModeAuto Mode = iota
	ModeLocal
	ModeCluster
)

// Result is the outcome of a single exec attempt (spec.md §4.F).
type Result struct {
	OK       bool
	Stdout   string
	Stderr   string
	ExitCode int
	ErrKind  corerr.Kind
}

// Config configures an Executor. Exactly one of ContainerName (local mode)
// or the cluster fields is meaningful, depending on Mode.
type Config struct {
	Mode Mode

	// Local mode.
	ContainerName string

	// Cluster mode.
	SSHUser string
}

// Executor is the single exec(...) surface consumed by the Sync Engine.
type Executor struct {
	cfg    Config
	docker *dockerclient.Client
	disc   *proxy.Discovery
	pool   *sshpool.Pool
	log    *logrus.Entry
}

// New constructs an Executor. docker may be nil when cfg.Mode is
// ModeCluster; disc/pool may be nil when cfg.Mode is ModeLocal.
func New(cfg Config, docker *dockerclient.Client, disc *proxy.Discovery, pool *sshpool.Pool) *Executor {
	return &Executor{
		cfg:    cfg,
		docker: docker,
		disc:   disc,
		pool:   pool,
		log:    corelog.For("executor"),
	}
}

// NewLocalDockerClient constructs the docker client for local mode, mirroring
// the pack's only docker/docker/client call site.
func NewLocalDockerClient() (*dockerclient.Client, error) {
	cli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
	if err != nil {
		return nil, corerr.Wrap(corerr.KindTransportFailure, err, "constructing docker client")
	}
	return cli, nil
}

// Exec runs argv against serviceKind, retrying per spec.md §4.F: between
// attempts sleep 2^attempt seconds (exponential backoff). A transport or
// discovery failure always earns a retry (those are exactly the transient
// conditions the pool/proxy layers expect callers to recover from); any
// other failure only retries when the caller explicitly asked for more than
// one attempt via retries.
func (e *Executor) Exec(ctx context.Context, serviceKind string, argv []string, timeout time.Duration, retries int) (Result, error) {
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
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			select {
			case <-ctx.Done():
				return lastResult, ctx.Err()
			case <-time.After(backoff):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		result, err := e.execOnce(attemptCtx, serviceKind, argv)
		cancel()

		lastResult, lastErr = result, err

		if err == nil {
			return result, nil
		}

		// A transient transport/discovery failure on the last budgeted
		// attempt extends the budget by one, even when retries == 1, for at
		// most maxBonusAttempts extra attempts so a permanently-down
		// transport can't spin forever.
		if attempt == budget-1 && corerr.IsRetryable(err) && budget < hardCap {
			budget++
		}
	}

	return lastResult, lastErr
}

func (e *Executor) execOnce(ctx context.Context, serviceKind string, argv []string) (Result, error) {
	mode := e.cfg.Mode
	if mode == ModeAuto {
		if e.docker != nil {
			mode = ModeLocal
		} else {
			mode = ModeCluster
		}
	}

	switch mode {
	case ModeLocal:
		return e.execLocal(ctx, argv)
	case ModeCluster:
		return e.execCluster(ctx, serviceKind, argv)
	default:
		return Result{}, corerr.New(corerr.KindCommandFailure, "unknown executor mode")
	}
}

// execLocal invokes the container engine's exec primitive against the
// configured container (spec.md §4.F local mode).
func (e *Executor) execLocal(ctx context.Context, argv []string) (Result, error) {
	execCfg := types.ExecConfig{
		Cmd:          argv,
		AttachStdout: true,
		AttachStderr: true,
	}

	created, err := e.docker.ContainerExecCreate(ctx, e.cfg.ContainerName, execCfg)
	if err != nil {
		return Result{ErrKind: corerr.KindTransportFailure}, corerr.Wrap(corerr.KindTransportFailure, err, "creating container exec")
	}

	attached, err := e.docker.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{})
	if err != nil {
		return Result{ErrKind: corerr.KindTransportFailure}, corerr.Wrap(corerr.KindTransportFailure, err, "attaching to container exec")
	}
	defer attached.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attached.Reader); err != nil {
		return Result{ErrKind: corerr.KindTransportFailure}, corerr.Wrap(corerr.KindTransportFailure, err, "reading container exec output")
	}

	inspect, err := e.docker.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return Result{ErrKind: corerr.KindTransportFailure}, corerr.Wrap(corerr.KindTransportFailure, err, "inspecting container exec")
	}

	return Result{
		OK:       inspect.ExitCode == 0,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: inspect.ExitCode,
	}, nil
}

// execCluster obtains a healthy proxy endpoint, acquires a pooled SSH
// connection, and runs argv as a single shell string (spec.md §4.F cluster
// mode).
func (e *Executor) execCluster(ctx context.Context, serviceKind string, argv []string) (Result, error) {
	ep, err := e.disc.Discover(ctx, serviceKind, false)
	if err != nil {
		return Result{ErrKind: corerr.KindTransportFailure}, corerr.Wrap(corerr.KindTransportFailure, err, "discovering proxy endpoint")
	}

	conn, err := e.pool.Acquire(ctx, ep.Host, ep.Port)
	if err != nil {
		return Result{ErrKind: corerr.KindPoolExhausted}, err
	}

	commandLine := strings.Join(argv, " ")
	ok, stdout, stderr, err := sshpool.Exec(ctx, conn, commandLine)
	if err != nil {
		e.pool.MarkError(conn)
		e.pool.Release(conn)
		e.disc.MarkError(serviceKind)
		return Result{ErrKind: corerr.KindTransportFailure}, err
	}

	e.pool.Release(conn)
	e.disc.MarkSuccess(serviceKind)

	exitCode := 0
	if !ok {
		exitCode = 1
	}
	return Result{OK: ok, Stdout: stdout, Stderr: stderr, ExitCode: exitCode}, nil
}

// Status runs the bare status verb against serviceKind and reports only
// whether it succeeded, the shape orchestrator.HealthCheck needs
// (original_source's web/routes.py /health route, backed by
// docker_executor.py's status calls).
func (e *Executor) Status(ctx context.Context, serviceKind string) (bool, error) {
	result, err := e.Exec(ctx, serviceKind, StatusArgs(serviceKind == "nextcloud"), 5*time.Second, 1)
	if err != nil {
		return false, err
	}
	return result.OK, nil
}

// ParseUserList parses the output of Nextcloud's occ user:list as a plain
// id->displayName mapping (original_source's nextcloud_commands.py). A JSON
// object (--output=json) is decoded directly; any other output is parsed
// line by line as "uid: display name" rows. The line parser tolerates blank
// lines and skips any line it cannot split on ":", rather than failing the
// whole parse over one malformed row.
func ParseUserList(stdout []byte) (map[string]string, error) {
	var decoded map[string]string
	if err := json.Unmarshal(bytes.TrimSpace(stdout), &decoded); err == nil && decoded != nil {
		return decoded, nil
	}

	users := make(map[string]string)
	for _, line := range strings.Split(string(stdout), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		uid := strings.TrimSpace(strings.Trim(line[:idx], `-" `))
		name := strings.TrimSpace(strings.Trim(line[idx+1:], `," `))
		if uid == "" {
			continue
		}
		users[uid] = name
	}
	return users, nil
}

// NextcloudCommand builds the argv for one of the Nextcloud occ command
// variants consumed by the Sync Engine (spec.md §4.F command taxonomy).
func NextcloudCommand(verb string, args ...string) []string {
	argv := append([]string{"occ", verb}, args...)
	return argv
}

// PhotoPrismCommand builds the argv for one of the PhotoPrism photoprism
// command variants (spec.md §4.F command taxonomy).
func PhotoPrismCommand(verb string, args ...string) []string {
	argv := append([]string{"photoprism", verb}, args...)
	return argv
}

// FilesScanArgs builds occ files:scan [--all | --path <p>].
func FilesScanArgs(allUsers bool, path string) []string {
	if allUsers {
		return NextcloudCommand("files:scan", "--all")
	}
	return NextcloudCommand("files:scan", "--path", path)
}

// MemoriesIndexArgs builds occ memories:index [--user <u>] [--path <p>].
func MemoriesIndexArgs(user, path string) []string {
	var args []string
	if user != "" {
		args = append(args, "--user", user)
	}
	if path != "" {
		args = append(args, "--path", path)
	}
	return NextcloudCommand("memories:index", args...)
}

// ImportArgs builds photoprism import [--path <p>] [--move].
func ImportArgs(path string, move bool) []string {
	args := []string{"--path", path}
	if move {
		args = append(args, "--move")
	}
	return PhotoPrismCommand("import", args...)
}

// IndexArgs builds photoprism index [--path <p>] [--cleanup].
func IndexArgs(path string, cleanup bool) []string {
	args := []string{"--path", path}
	if cleanup {
		args = append(args, "--cleanup")
	}
	return PhotoPrismCommand("index", args...)
}

// StatusArgs builds the status verb shared by both services, used by the
// HealthCheck entry point.
func StatusArgs(forNextcloud bool) []string {
	if forNextcloud {
		return NextcloudCommand("status")
	}
	return PhotoPrismCommand("status")
}
