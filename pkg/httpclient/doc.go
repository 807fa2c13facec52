// Package httpclient はnotehub APIへのJSONリクエストを行うHTTPクライアントを提供する。
// CLIクライアント（notectl）から使用される。
package httpclient
