package loader

import "io"

// StageLoading は進捗イベントのステージ名。
const StageLoading = "Loading database"

// ProgressFunc は (stage, loaded, total) を受け取る進捗コールバック。
// total が不明な場合は 0。
type ProgressFunc func(stage string, loaded, total int64)

// progressStep は通知の最小間隔（バイト）。
const progressStep = 1 << 20

// progressReader は読み取りバイト数を数え、一定量ごとに進捗を通知する。
type progressReader struct {
	r        io.Reader
	total    int64
	loaded   int64
	reported int64
	fn       ProgressFunc
}

func newProgressReader(r io.Reader, total int64, fn ProgressFunc) *progressReader {
	return &progressReader{r: r, total: total, fn: fn}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.loaded += int64(n)
	if p.fn != nil && n > 0 && p.loaded-p.reported >= p.step() {
		p.reported = p.loaded
		p.fn(StageLoading, p.loaded, p.total)
	}
	return n, err
}

// step は total の1%と1MiBの小さい方。
func (p *progressReader) step() int64 {
	if p.total > 0 && p.total/100 < progressStep {
		if p.total/100 == 0 {
			return 1
		}
		return p.total / 100
	}
	return progressStep
}

// finish は最終値をまだ通知していなければ通知する。
func (p *progressReader) finish() {
	if p.fn != nil && p.reported != p.loaded {
		p.reported = p.loaded
		p.fn(StageLoading, p.loaded, p.total)
	}
}
