// Package storage provides the durable key/value store the reminder and cooking schedulers persist through.
// It uses BadgerDB as the embedded database and exposes the KV port the rest of the module depends on.
package storage
