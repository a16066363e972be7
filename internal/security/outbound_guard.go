// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// OutboundGuard はチャットWebhookなど、設定値から組み立てる外向きURLの安全性を検証する。
type OutboundGuard struct {
	requireHTTPS bool
}

// NewOutboundGuard はOutboundGuardを生成する。
// requireHTTPSがtrueの場合はhttpsスキームのみを許可する。
func NewOutboundGuard(requireHTTPS bool) *OutboundGuard {
	return &OutboundGuard{requireHTTPS: requireHTTPS}
}

// blockedNetworks は外向きリクエストで拒否するネットワーク範囲。
var blockedNetworks = mustParseCIDRs(
	"10.0.0.0/8",     // RFC 1918
	"172.16.0.0/12",  // RFC 1918
	"192.168.0.0/16", // RFC 1918
	"127.0.0.0/8",    // ループバック
	"169.254.0.0/16", // リンクローカル（メタデータIPを含む）
	"0.0.0.0/8",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %s: %v", c, err))
		}
		out = append(out, n)
	}
	return out
}

// NewSafeClient は内部ネットワークへの接続を拒否するHTTPクライアントを生成する。
// safeurlが名前解決後のIPアドレスをDialerで検証する。
func (g *OutboundGuard) NewSafeClient(timeout time.Duration) *http.Client {
	schemes := []string{"https"}
	ports := []int{443}
	if !g.requireHTTPS {
		schemes = append(schemes, "http")
		ports = append(ports, 80)
	}

	cfg := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(schemes...).
		SetAllowedPorts(ports...).
		Build()

	return safeurl.Client(cfg).Client
}

// ValidateURL は名前解決を行わずにURLを静的に検証する。
// 起動時の設定検証に使い、実際の接続時の検証はNewSafeClientのクライアントが行う。
func (g *OutboundGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "https":
	case "http":
		if g.requireHTTPS {
			return fmt.Errorf("disallowed scheme: http (https required)")
		}
	default:
		return fmt.Errorf("disallowed scheme: %q", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL")
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, n := range blockedNetworks {
			if n.Contains(ip) {
				return fmt.Errorf("blocked IP address: %s", ip)
			}
		}
	}

	return nil
}
