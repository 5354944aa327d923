// Package types 定義了 fiberjobs 排程器對外公開的值型別
package types

import "fmt"

// WorkerID 工作執行緒索引
type WorkerID int

// AnyWorker 表示任務不綁定特定 worker，由任何 worker 從全域佇列取出
const AnyWorker WorkerID = -1

// MaxWorkers 為 worker 數量上限
const MaxWorkers = 64

// JobHandle 完成計數器的不透明引用
//
// 由計數器槽位 (slot) 與世代 (generation) 組成。零值為無效 handle，
// 世代從 1 開始，因此零值永遠不會對應到存活中的計數器。
type JobHandle struct {
	slot       uint32 // 計數器槽位索引
	generation uint32 // 槽位回收時遞增的世代標記
}

// NewJobHandle 由槽位與世代建立 handle
func NewJobHandle(slot, generation uint32) JobHandle {
	return JobHandle{slot: slot, generation: generation}
}

// Slot 返回計數器槽位索引
func (h JobHandle) Slot() uint32 { return h.slot }

// Generation 返回世代標記
func (h JobHandle) Generation() uint32 { return h.generation }

// IsValid 檢查 handle 是否曾被分配
func (h JobHandle) IsValid() bool { return h.generation != 0 }

func (h JobHandle) String() string {
	if !h.IsValid() {
		return "job-handle(invalid)"
	}
	return fmt.Sprintf("job-handle(%d:%d)", h.slot, h.generation)
}
