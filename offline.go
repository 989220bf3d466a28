package offline

import "errors"

// Sentinel errors.
var (
	// ErrPrecache is returned when install fails to precache the full
	// shell manifest. The attempt is all-or-nothing; no partial shell
	// store survives.
	ErrPrecache = errors.New("offline: precache failed")

	// ErrNotInstalled is returned when Activate is called before a
	// successful Install.
	ErrNotInstalled = errors.New("offline: worker not installed")
)

// Strategy selects how a classified request is satisfied.
type Strategy uint8

const (
	// StrategyPassthrough sends the request straight to the network,
	// uncached. Network errors propagate to the caller.
	StrategyPassthrough Strategy = iota

	// StrategyCacheFirst serves from the store when possible and only
	// touches the network on a miss.
	StrategyCacheFirst

	// StrategyNetworkFirst prefers a live response, falling back to the
	// store when the network fails.
	StrategyNetworkFirst

	// StrategyStaleWhileRevalidate serves the cached entry immediately
	// and refreshes it in the background for the next request.
	StrategyStaleWhileRevalidate
)

func (s Strategy) String() string {
	switch s {
	case StrategyPassthrough:
		return "passthrough"
	case StrategyCacheFirst:
		return "cache-first"
	case StrategyNetworkFirst:
		return "network-first"
	case StrategyStaleWhileRevalidate:
		return "stale-while-revalidate"
	default:
		return "unknown"
	}
}

// StoreRole identifies the logical store a request is cached in. Exactly
// one physical store is current per role at any time.
type StoreRole uint8

const (
	// RoleShell holds the precached application shell.
	RoleShell StoreRole = iota

	// RoleRuntime is populated lazily as requests are observed.
	RoleRuntime
)

func (r StoreRole) String() string {
	switch r {
	case RoleShell:
		return "shell"
	case RoleRuntime:
		return "runtime"
	default:
		return "unknown"
	}
}

// State is the worker lifecycle state.
type State uint8

const (
	// StateNew is the initial state; requests pass through untouched.
	StateNew State = iota

	// StateInstalling means the shell precache is in progress.
	StateInstalling

	// StateWaiting means install succeeded and the worker is ready to
	// activate.
	StateWaiting

	// StateActive means the worker's generation serves requests.
	StateActive
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateInstalling:
		return "installing"
	case StateWaiting:
		return "waiting"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}
