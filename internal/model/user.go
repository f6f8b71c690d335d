// Package model はドメインモデルを定義する。
package model

// User はアーカイブ内のユーザーを表す。
// username はBAN・改名されたアカウントで重複しうるため、一意性は保証されない。
type User struct {
	ID       int64   `json:"id" db:"id"`
	Username *string `json:"username" db:"username"`
	Nickname *string `json:"nickname" db:"nickname"`
	Avatar   *string `json:"avatar" db:"avatar"`
}

// VideoMetadata は外部動画IDに紐づく動画の付帯情報。
// 動画を含むコンテンツの読み出し時に遅延して引かれる。
type VideoMetadata struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title,omitempty"`
	Uploader    string `json:"uploader,omitempty"`
	UploaderURL string `json:"uploader_url,omitempty"`
}
