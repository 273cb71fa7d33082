package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/mygasbridge/mygasbridge/pkg/log"
	"github.com/mygasbridge/mygasbridge/pkg/mygas"
	"github.com/mygasbridge/mygasbridge/pkg/types"
	"github.com/patrickmn/go-cache"
)

// Options configures a Coordinator.
type Options struct {
	// Username is only used to scope log records.
	Username string

	// AutoUpdate enables the daily poll. When disabled data is only refreshed
	// on request.
	AutoUpdate bool

	// HourBegin and HourEnd bound the random hour of the daily poll,
	// [HourBegin, HourEnd).
	HourBegin int
	HourEnd   int

	// ReceiptTTL is how long fetched receipts are reused.
	ReceiptTTL time.Duration
}

// DefaultOptions returns the options used when no flags are set.
func DefaultOptions() Options {
	return Options{
		HourBegin:  1,
		HourEnd:    5,
		ReceiptTTL: time.Hour,
	}
}

// Validate ensures the options are usable.
func (o Options) Validate() error {
	if o.HourBegin < 0 || o.HourEnd > 24 || o.HourBegin >= o.HourEnd {
		return fmt.Errorf("invalid update hour window [%d, %d)", o.HourBegin, o.HourEnd)
	}
	if o.ReceiptTTL < 0 {
		return fmt.Errorf("invalid receipt ttl: %s", o.ReceiptTTL)
	}
	return nil
}

// Coordinator polls the MyGas service and keeps the normalized result of the
// last successful poll. Readers always see a complete snapshot.
type Coordinator struct {
	api      API
	registry DeviceRegistry
	opts     Options

	randIntN func(int) int
	now      func() time.Time

	receipts *cache.Cache

	updateMu  sync.Mutex
	snapshot  atomic.Pointer[types.Snapshot]
	forceNext atomic.Bool
	interval  atomic.Int64
}

// Configured sets up flags for the coordinator and returns the instance. If
// api knows its login it is used to scope log records.
func Configured(api API, registry DeviceRegistry) *Coordinator {
	c := New(api, registry, DefaultOptions())
	autoUpdate := lflag.Bool("auto-update", false, "Poll MyGas once a day at a random time within the update window")
	hourBegin := lflag.Int("update-hour-begin", c.opts.HourBegin, "First hour (inclusive) of the daily update window")
	hourEnd := lflag.Int("update-hour-end", c.opts.HourEnd, "Last hour (exclusive) of the daily update window")
	receiptTTL := lflag.Duration("receipt-cache-ttl", c.opts.ReceiptTTL, "How long to reuse a fetched receipt")

	lflag.Do(func() {
		var username string
		if u, ok := api.(interface{ Username() string }); ok {
			username = u.Username()
		}
		opts := Options{
			Username:   username,
			AutoUpdate: *autoUpdate,
			HourBegin:  *hourBegin,
			HourEnd:    *hourEnd,
			ReceiptTTL: *receiptTTL,
		}
		if err := opts.Validate(); err != nil {
			panic(fmt.Sprintf("coordinator validation failed: %v", err))
		}
		c.opts = opts
		c.receipts = cache.New(opts.ReceiptTTL, 2*opts.ReceiptTTL)
	})

	return c
}

// New creates a Coordinator. An unset update window falls back to the default
// one.
func New(api API, registry DeviceRegistry, opts Options) *Coordinator {
	if opts.HourBegin == 0 && opts.HourEnd == 0 {
		def := DefaultOptions()
		opts.HourBegin, opts.HourEnd = def.HourBegin, def.HourEnd
	}
	return &Coordinator{
		api:      api,
		registry: registry,
		opts:     opts,
		randIntN: rand.IntN,
		now:      time.Now,
		receipts: cache.New(opts.ReceiptTTL, 2*opts.ReceiptTTL),
	}
}

// Snapshot returns the result of the last successful poll or nil if there was
// none yet.
func (c *Coordinator) Snapshot() *types.Snapshot {
	return c.snapshot.Load()
}

// current never returns nil so readers do not need to care about the first
// poll.
func (c *Coordinator) current() *types.Snapshot {
	if s := c.snapshot.Load(); s != nil {
		return s
	}
	return &types.Snapshot{}
}

// ForceNextUpdate makes the next poll fetch the accounts tree again instead of
// reusing the cached one. The flag is consumed by that poll.
func (c *Coordinator) ForceNextUpdate() {
	c.forceNext.Store(true)
}

// UpdateInterval returns the delay until the next automatic poll. Zero means
// automatic polling is disabled.
func (c *Coordinator) UpdateInterval() time.Duration {
	return time.Duration(c.interval.Load())
}

// Poll runs Update and returns the delay until the next automatic poll.
func (c *Coordinator) Poll(ctx context.Context) (time.Duration, error) {
	_, err := c.Update(ctx)
	return c.UpdateInterval(), err
}

// Update fetches the accounts tree (or reuses the cached one), fetches the
// details of every account, extracts the balance and publishes the result.
//
// Authentication failures are returned wrapping types.ErrAuthFailed, every
// other failure as a *types.UpdateError. On failure the previous snapshot is
// kept.
func (c *Coordinator) Update(ctx context.Context) (*types.Snapshot, error) {
	c.updateMu.Lock()
	defer c.updateMu.Unlock()

	ctx = log.WithAttrs(ctx, slog.String("username", c.opts.Username))
	defer c.scheduleNext(ctx)

	// a force requested while this poll runs is kept for the next one
	force := c.forceNext.Swap(false)

	log.Ctx(ctx).DebugContext(ctx, "start updating data", slog.Bool("force", force))
	snap, err := c.refresh(ctx, force)
	if err != nil {
		err = translateError("update", err)
		if types.IsAuthFailure(err) {
			log.Ctx(ctx).ErrorContext(ctx, "mygas rejected the credentials", slog.Any("error", err))
		} else {
			log.Ctx(ctx).ErrorContext(ctx, "failed to update mygas data", slog.Any("error", err))
		}
		return nil, err
	}

	c.snapshot.Store(snap)
	log.Ctx(ctx).DebugContext(
		ctx,
		"data updated successfully",
		slog.String("shape", snap.Shape.String()),
		slog.Int("accounts", len(snap.AccountIDs)),
	)
	return snap, nil
}

func (c *Coordinator) refresh(ctx context.Context, force bool) (*types.Snapshot, error) {
	next := &types.Snapshot{
		LastUpdate: c.now(),
	}

	var accounts any
	if prev := c.snapshot.Load(); prev != nil {
		accounts = prev.Accounts
	}

	if !truthy(accounts) || force {
		log.Ctx(ctx).DebugContext(ctx, "get accounts info")
		fresh, err := call(ctx, "get accounts", c.api.GetAccounts)
		if err != nil {
			return nil, err
		}
		if !truthy(fresh) {
			log.Ctx(ctx).WarnContext(ctx, "accounts info not retrieved")
			return next, nil
		}
		log.Ctx(ctx).DebugContext(ctx, "accounts info retrieved successfully")
		accounts = fresh
	} else {
		log.Ctx(ctx).DebugContext(ctx, "accounts info retrieved from cache")
	}
	next.Accounts = accounts

	shape := Classify(accounts)
	log.Ctx(ctx).DebugContext(
		ctx,
		"classified accounts info",
		slog.Any("keys", payloadKeys(accounts)),
		slog.String("shape", shape.String()),
		slog.Int("lspuListLen", len(LSPUList(accounts))),
	)

	switch shape {
	case types.ShapeELS:
		details, ids, err := c.fetchELSDetails(ctx, accounts)
		if err != nil {
			return nil, err
		}
		next.Shape = types.ShapeELS
		next.ELS = details
		next.AccountIDs = ids
	case types.ShapeLSPU:
		details, ids, err := c.fetchLSPUDetails(ctx, accounts)
		if err != nil {
			return nil, err
		}
		next.Shape = types.ShapeLSPU
		next.LSPU = details
		next.AccountIDs = ids
	default:
		// a newly provisioned account has neither shape, keep polling
		log.Ctx(ctx).WarnContext(ctx, "no elsGroup and no lspu list in accounts info")
		next.Shape = types.ShapeEmpty
		return next, nil
	}

	if balance, ok := snapshotBalance(next); ok {
		balance = math.Abs(balance)
		next.Balance = &balance
	}
	return next, nil
}

// scheduleNext picks a random time of day inside the update window so that
// installations do not all hit the API at once.
func (c *Coordinator) scheduleNext(ctx context.Context) {
	if !c.opts.AutoUpdate {
		c.interval.Store(0)
		return
	}
	hour := c.opts.HourBegin + c.randIntN(max(c.opts.HourEnd-c.opts.HourBegin, 1))
	interval := nextUpdateInterval(c.now(), hour, c.randIntN(60), c.randIntN(60))
	c.interval.Store(int64(interval))
	log.Ctx(ctx).DebugContext(ctx, "update interval", slog.Float64("seconds", interval.Seconds()))
}

// nextUpdateInterval returns the duration until the next occurrence of the
// given time of day.
func nextUpdateInterval(now time.Time, hour, minute, second int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, second, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}

// call runs a single MyGas request and translates its error into the poll
// level categories. Every remote call goes through here.
func call[T any](ctx context.Context, op string, fn func(context.Context) (T, error)) (T, error) {
	res, err := fn(ctx)
	if err != nil {
		log.Ctx(ctx).DebugContext(ctx, "mygas call failed", slog.String("op", op), slog.Any("error", err))
		var zero T
		return zero, translateError(op, err)
	}
	return res, nil
}

func translateError(op string, err error) error {
	if types.IsAuthFailure(err) {
		return err
	}
	var authErr *mygas.AuthError
	if errors.As(err, &authErr) {
		return fmt.Errorf("%w: %w", types.ErrAuthFailed, err)
	}
	var updateErr *types.UpdateError
	if errors.As(err, &updateErr) {
		return err
	}
	return &types.UpdateError{Op: op, Err: err}
}

func payloadKeys(v any) []string {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
