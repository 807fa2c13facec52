// Package middleware はGinのHTTPミドルウェアとJWT検証を提供する。
package middleware
