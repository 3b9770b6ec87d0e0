// Package server 提供本地代理的 Fiber HTTP 入口：为每个请求生成请求 ID，
// 把 origin-form 请求解析到应用源、absolute-form 请求保留原地址，再交给受控消费者分发，
// 并把响应写回调用方。诊断接口统一挂在 /-/ 前缀下。
package server
