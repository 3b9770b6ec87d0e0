// Package weborigin 规范化 Web 源（scheme + host + port），供配置校验与请求分类共用，
// 保证两处对“同源”的判断一致。
package weborigin

import (
	"net"
	"net/url"
	"strings"
)

// Of 返回 u 的规范源字符串：scheme 与主机名小写，默认端口（http:80、https:443）省略。
func Of(u *url.URL) string {
	if u == nil {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = net.JoinHostPort(host, port)
	}
	return scheme + "://" + host
}

// Same 判断两个地址是否同源，任一为 nil 时返回 false。
func Same(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return Of(a) == Of(b)
}
