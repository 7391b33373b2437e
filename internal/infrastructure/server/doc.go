// Package server assembles the HTTP surface: middleware chain, REST
// routes, the websocket event bridge, and graceful shutdown of the
// console service behind them.
package server
