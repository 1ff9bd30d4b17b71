// Package cachefingerprint extracts prompt-cache relevant signals from a
// request's system prompt and message list: whether any block opted into
// ephemeral caching, the concatenated cacheable system text, how many
// user-role blocks carry a cache marker, and a stable fingerprint of the
// system sequence suitable for cache-affinity routing (internal/cluster).
package cachefingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/anyclaude/anyclaude-proxy/pkg/wire/anthropic"
)

// Result is the extractor's output for one request.
type Result struct {
	HasSystemCache          bool
	SystemCacheText         string
	UserCacheableBlockCount int
	Fingerprint             *string
}

// Extract inspects the normalized system sequence and the message list,
// ignoring assistant-role content entirely, and counting only markers whose
// mode is ephemeral.
func Extract(req *anthropic.Request) Result {
	system := req.SystemBlocks()

	var cacheText string
	hasCache := false
	for _, b := range system {
		if b.Cache.IsEphemeral() {
			hasCache = true
			cacheText += b.Text
		}
	}

	userCacheable := 0
	for _, m := range req.Messages {
		if m.Role != anthropic.RoleUser {
			continue
		}
		for _, b := range m.Content {
			if b.Cache.IsEphemeral() {
				userCacheable++
			}
		}
	}

	fp := fingerprint(system)

	return Result{
		HasSystemCache:          hasCache,
		SystemCacheText:         cacheText,
		UserCacheableBlockCount: userCacheable,
		Fingerprint:             &fp,
	}
}

// canonicalBlock is the fixed, order-preserving shape hashed for each system
// block. Field order here is part of the canonical form: changing it changes
// every fingerprint.
type canonicalBlock struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	HasCache  bool   `json:"has_cache"`
	CacheMode string `json:"cache_mode,omitempty"`
}

// fingerprint computes the lowercase-hex SHA-256 of the canonical
// serialization of the system sequence. Canonicalization preserves block
// order, type, text, and cache-marker presence/value, so inputs differing
// only in order or cache markers hash differently. An empty sequence hashes
// the canonical form of an empty array, giving a well-defined, non-panicking
// result.
func fingerprint(blocks []anthropic.ContentBlock) string {
	canon := make([]canonicalBlock, len(blocks))
	for i, b := range blocks {
		cb := canonicalBlock{Type: string(b.Type), Text: b.Text}
		if b.Cache != nil {
			cb.HasCache = true
			cb.CacheMode = b.Cache.Type
		}
		canon[i] = cb
	}

	// json.Marshal of a struct slice is deterministic: field order is fixed
	// by canonicalBlock's declaration, not map iteration.
	data, err := json.Marshal(canon)
	if err != nil {
		data = []byte("[]")
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
