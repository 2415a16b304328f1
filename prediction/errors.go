package prediction

import (
	"fmt"

	"arenasync/world"
)

// DesyncError 快照无法在本地对齐（增量基准缺失、增量本身不一致）
// 不是致命错误：引擎会请求一次完整快照
type DesyncError struct {
	Tick     world.Tick
	BaseTick world.Tick
	Err      error
}

func (e *DesyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("prediction: desync at tick %d (base %d): %v", e.Tick, e.BaseTick, e.Err)
	}
	return fmt.Sprintf("prediction: desync at tick %d (base %d): baseline not available", e.Tick, e.BaseTick)
}

func (e *DesyncError) Unwrap() error { return e.Err }

// Is 所有 DesyncError 视为同一类
func (e *DesyncError) Is(target error) bool {
	_, ok := target.(*DesyncError)
	return ok
}

// ErrDesync 用于 errors.Is 判断
var ErrDesync = &DesyncError{}
