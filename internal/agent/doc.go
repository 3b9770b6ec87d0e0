// Package agent 实现离线缓存代理的拦截策略：install 预缓存清单资源，activate 清理旧版本缓存，
// 每个请求按分类选择 network-only、cache-first 或 network-first，并把成功响应异步写回缓存。
package agent
