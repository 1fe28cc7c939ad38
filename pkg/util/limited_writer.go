package util

import "io"

// LimitedWriter 给子进程输出流加写入上限: 前 limit 字节透传到底层
// writer, 之后的数据丢弃但仍向调用方报告成功。
//
// exec.Cmd 会在 Stderr 返回错误时中断拷贝, 所以超限后不能返回
// io.ErrShortWrite; 丢弃并返回 len(p) 让子进程继续跑。
type LimitedWriter struct {
	w       io.Writer
	limit   int
	written int
}

// NewLimitedWriter 包装 w, 最多透传 limit 字节。
func NewLimitedWriter(w io.Writer, limit int) *LimitedWriter {
	return &LimitedWriter{w: w, limit: limit}
}

// Write 实现 io.Writer。超出上限的部分被截断丢弃。
func (lw *LimitedWriter) Write(p []byte) (int, error) {
	remain := lw.limit - lw.written
	if remain <= 0 {
		return len(p), nil
	}
	if len(p) > remain {
		p = p[:remain]
	}
	n, err := lw.w.Write(p)
	lw.written += n
	return n, err
}

// Overflow 返回是否已达到上限 (之后的写入全部被丢弃)。
func (lw *LimitedWriter) Overflow() bool { return lw.written >= lw.limit }

// Written 返回已透传到底层 writer 的字节数。
func (lw *LimitedWriter) Written() int { return lw.written }
