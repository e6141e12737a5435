// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package codec

import (
	"crypto/hmac"
	"crypto/sha256"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// TokenSize is the truncated length of a search token.
const TokenSize = 16

// Tokens are deterministic per word and server key, so storage can see
// how often a token repeats and which messages share words. This is an
// equality index for a trusted-but-curious operator, not a scheme that
// hides frequency.

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "any": {}, "can": {}, "had": {}, "her": {},
	"was": {}, "one": {}, "our": {}, "out": {}, "has": {}, "him": {},
	"his": {}, "how": {}, "its": {}, "may": {}, "who": {}, "did": {},
	"she": {}, "too": {}, "use": {}, "that": {}, "with": {}, "have": {},
	"this": {}, "will": {}, "your": {}, "from": {}, "they": {}, "been": {},
	"were": {}, "what": {}, "when": {}, "them": {}, "then": {}, "than": {},
	"there": {}, "their": {}, "which": {}, "would": {}, "about": {},
	"into": {}, "just": {}, "also": {}, "some": {}, "very": {},
}

var folder = cases.Fold()

// Words normalizes text and returns the distinct indexable words in
// first-seen order: NFKC, case-folded, punctuation stripped, stopwords
// and words of two or fewer characters dropped.
func Words(text string) []string {
	text = folder.String(norm.NFKC.String(text))
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, w := range fields {
		if len([]rune(w)) <= 2 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

// Index returns one HMAC-SHA256 token per indexable word, truncated to
// TokenSize bytes.
func Index(text string, indexKey []byte) [][]byte {
	words := Words(text)
	out := make([][]byte, 0, len(words))
	for _, w := range words {
		out = append(out, Token(w, indexKey))
	}
	return out
}

// Token hashes a single already-normalized word.
func Token(word string, indexKey []byte) []byte {
	mac := hmac.New(sha256.New, indexKey)
	mac.Write([]byte(word))
	return mac.Sum(nil)[:TokenSize]
}
