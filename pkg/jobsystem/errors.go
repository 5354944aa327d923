package jobsystem

import "errors"

// Lifecycle errors, returned to the caller.
var (
	// ErrNoWorkers 表示 Initialize 無法啟動任何 worker
	ErrNoWorkers = errors.New("jobsystem: no workers could be started")
	// ErrAlreadyInitialized 表示排程器已在運行中
	ErrAlreadyInitialized = errors.New("jobsystem: already initialized")
	// ErrFiberPoolTooSmall 表示 fiber 池容量不足以讓每個 worker 取得初始 fiber
	ErrFiberPoolTooSmall = errors.New("jobsystem: fiber pool smaller than worker count")
	// ErrNotInitialized 表示排程器尚未啟動或已關閉
	ErrNotInitialized = errors.New("jobsystem: scheduler not initialized")
)

// Capacity errors. These are panic values: exhausting a fixed-size table is a
// configuration bug and is not recovered from.
var (
	// ErrCounterTableExhausted 表示同時存活的 JobHandle 超過 CounterCount
	ErrCounterTableExhausted = errors.New("jobsystem: counter table exhausted")
	// ErrFiberPoolExhausted 表示停駐於 Wait 的 fiber 佔滿整個池
	ErrFiberPoolExhausted = errors.New("jobsystem: fiber pool exhausted")
)
