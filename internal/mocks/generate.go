// Package mocks provides gomock implementations of the upstream client
// interfaces.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
package mocks

//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=compute_client_mock.go github.com/kiranshivaraju/agripay/internal/compute Client
