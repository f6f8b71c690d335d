// Package visibility は時点Tにおけるスレッド・フロア・コメントの可視性を解決する。
//
// 削除は「操作時刻 < T の削除イベントが存在するか」で判定し、イベントの実時刻ではなく
// 問い合わせの基準時刻に対して遡及的に評価する。判定条件は Horizon が組み立てる
// SQL断片に一本化されており、スレッド一覧・スレッド詳細・ユーザー履歴・検索のすべてが
// 同じ断片を使う。
package visibility

import (
	"fmt"
	"strings"

	"github.com/hitoshi/timevault/internal/model"
)

// MaintenanceWindows はアーカイブ保守作業の時間帯（operation_time の前方一致パターン）。
// この時間帯の操作は実際の管理操作ではないため、削除・加精の判定から常に除外する。
var MaintenanceWindows = []string{
	"2022-02-26 23:%",
	"2022-02-16 01:%",
}

// 名前付きパラメータ名。Horizon.Args が値を設定する。
const (
	paramCutoff    = "vis_cutoff"
	paramOpDelete  = "vis_op_delete"
	paramOpFeature = "vis_op_feature"
	paramPageSize  = "vis_page_size"
	paramMaintTmpl = "vis_maint_%d"
)

// Horizon は可視性判定の基準。Enforced が false の場合は時刻による絞り込みも削除判定も行わない。
type Horizon struct {
	Cutoff   string
	Enforced bool
}

// At は基準時刻 cutoff（標準形式）の Horizon を返す。
func At(cutoff string) Horizon {
	return Horizon{Cutoff: cutoff, Enforced: true}
}

// Unbounded は時刻条件を持たない Horizon を返す。
func Unbounded() Horizon {
	return Horizon{}
}

// Args は断片が参照するパラメータを args に追加して返す。args が nil なら新しく作る。
func (h Horizon) Args(args map[string]any) map[string]any {
	if args == nil {
		args = make(map[string]any)
	}
	args[paramCutoff] = h.Cutoff
	args[paramOpDelete] = model.OperationDelete
	args[paramOpFeature] = model.OperationFeature
	for i, w := range MaintenanceWindows {
		args[fmt.Sprintf(paramMaintTmpl, i)] = w
	}
	return args
}

// NotMaintenance は col が保守作業の時間帯に含まれないことを表す条件式を返す。
func NotMaintenance(col string) string {
	parts := make([]string, len(MaintenanceWindows))
	for i := range MaintenanceWindows {
		parts[i] = fmt.Sprintf("%s NOT LIKE :"+paramMaintTmpl, col, i)
	}
	return strings.Join(parts, " AND ")
}

// Before は col < T を表す条件式を返す。
func (h Horizon) Before(col string) string {
	if !h.Enforced {
		return "1=1"
	}
	return fmt.Sprintf("%s < :%s", col, paramCutoff)
}

// deletedBefore は un_post 上の削除イベントの存在判定を返す。target は post_id に対する条件。
func (h Horizon) deletedBefore(threadCol, target string) string {
	return fmt.Sprintf(`EXISTS (
		SELECT 1 FROM un_post del
		WHERE del.thread_id = %s
		  AND %s
		  AND del.operation = :%s
		  AND del.operation_time < :%s
		  AND %s)`,
		threadCol, target, paramOpDelete, paramCutoff, NotMaintenance("del.operation_time"))
}

// ThreadVisible はスレッド threadCol が時点Tで削除されていないことを表す条件式を返す。
func (h Horizon) ThreadVisible(threadCol string) string {
	if !h.Enforced {
		return "1=1"
	}
	return "NOT " + h.deletedBefore(threadCol, "del.post_id IS NULL")
}

// PostVisible はフロア postCol（所属スレッド threadCol）が時点Tで削除されていないことを表す条件式を返す。
// スレッド自体の削除は含まない。
func (h Horizon) PostVisible(threadCol, postCol string) string {
	if !h.Enforced {
		return "1=1"
	}
	return "NOT " + h.deletedBefore(threadCol, "del.post_id = "+postCol)
}

// Visible はフロアとその所属スレッドの両方が可視であることを表す条件式を返す。
// コメントの可視性は親フロアの可視性に従うため、コメントにも親フロアの列で用いる。
func (h Horizon) Visible(threadCol, postCol string) string {
	return h.ThreadVisible(threadCol) + " AND " + h.PostVisible(threadCol, postCol)
}

// Featured はスレッドが時点Tまでに加精されていることを表す条件式を返す。
func (h Horizon) Featured(threadCol string) string {
	before := "1=1"
	if h.Enforced {
		before = fmt.Sprintf("fe.operation_time < :%s", paramCutoff)
	}
	return fmt.Sprintf(`EXISTS (
		SELECT 1 FROM un_post fe
		WHERE fe.thread_id = %s
		  AND fe.operation = :%s
		  AND %s
		  AND %s)`,
		threadCol, paramOpFeature, before, NotMaintenance("fe.operation_time"))
}

// PageExpr はフロア（threadCol, floorCol）の時点Tにおけるページ番号を求める式を返す。
// ページ番号 = 時点Tで可視な下位フロア数 / ページサイズ + 1。
// ページサイズは Args とは別に WithPageSize で設定する。
func (h Horizon) PageExpr(threadCol, floorCol string) string {
	return fmt.Sprintf(`((SELECT COUNT(*) FROM pr_post pg
		WHERE pg.thread_id = %s
		  AND pg.floor < %s
		  AND %s
		  AND %s) / :%s + 1)`,
		threadCol, floorCol, h.Before("pg.time"), h.PostVisible("pg.thread_id", "pg.id"), paramPageSize)
}

// WithPageSize は PageExpr が参照するページサイズを args に設定する。
func WithPageSize(args map[string]any, pageSize int) map[string]any {
	args[paramPageSize] = int64(pageSize)
	return args
}

// LikeTerms は検索語を AND、各語について列を OR で結合した条件式とパラメータを返す。
// prefix はパラメータ名の衝突を避けるための接頭辞。語が無い場合は "1=1"。
func LikeTerms(prefix string, words, cols []string, args map[string]any) string {
	if len(words) == 0 {
		return "1=1"
	}
	terms := make([]string, 0, len(words))
	for i, w := range words {
		name := fmt.Sprintf("%s_%d", prefix, i)
		args[name] = "%" + escapeLike(w) + "%"
		ors := make([]string, len(cols))
		for j, c := range cols {
			ors[j] = fmt.Sprintf(`%s LIKE :%s ESCAPE '\'`, c, name)
		}
		terms = append(terms, "("+strings.Join(ors, " OR ")+")")
	}
	return strings.Join(terms, " AND ")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// SplitKeyword は空白で区切られた検索語を返す。
func SplitKeyword(keyword string) []string {
	return strings.Fields(keyword)
}
