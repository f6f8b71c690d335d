// Package security はアーカイブ取得時のSSRF対策を提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ArchiveFetchGuard はアーカイブURLの検証と取得用クライアントの生成を行う。
type ArchiveFetchGuard interface {
	// Client はアーカイブ取得用のHTTPクライアントを返す。
	// rawURL のポートだけを許可ポートに加える。
	Client(rawURL string, timeout time.Duration) *http.Client

	// ValidateURL はDNS解決を伴わない静的な事前検証を行う。
	ValidateURL(rawURL string) error
}

var allowedSchemes = []string{"http", "https"}

// blockedNetworks はパッケージ初期化時に1回だけパースする。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		// クラウドメタデータIP (169.254.169.254) を含む
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// Guard は ArchiveFetchGuard の実装。
// allowPrivate が true の場合、社内ミラーやローカル開発用にプライベートアドレスへの取得を許可する。
type Guard struct {
	allowPrivate bool
}

// NewGuard は Guard を生成する。
func NewGuard(allowPrivate bool) *Guard {
	return &Guard{allowPrivate: allowPrivate}
}

// AllowsPrivate はプライベートアドレスへの取得を許可しているかを返す。
func (g *Guard) AllowsPrivate() bool {
	return g.allowPrivate
}

// Client はアーカイブ取得用のHTTPクライアントを生成する。
//
// 通常は safeurl のクライアントを返し、DNS解決後のIPアドレスも Dialer の Control フックで検証する。
// プライベートアドレスを許可している場合は検証なしのクライアントを返す。
func (g *Guard) Client(rawURL string, timeout time.Duration) *http.Client {
	if g.allowPrivate {
		return &http.Client{Timeout: timeout}
	}

	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(allowedPorts(rawURL)...).
		Build()

	return safeurl.Client(config).Client
}

// allowedPorts は標準ポートに rawURL の明示ポートを加えたものを返す。
func allowedPorts(rawURL string) []int {
	ports := []int{80, 443}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ports
	}
	if p, err := strconv.Atoi(parsed.Port()); err == nil && p != 80 && p != 443 {
		ports = append(ports, p)
	}
	return ports
}

// ValidateURL はアーカイブURLの安全性を事前に検証する。
// DNS再バインディングは Client 側の Dialer 検証で防ぐ。
func (g *Guard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("disallowed scheme: %s (allowed: %v)", scheme, allowedSchemes)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if g.allowPrivate {
		return nil
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("blocked IP address: %s", ip.String())
		}
		return nil
	}

	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}
	return nil
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
