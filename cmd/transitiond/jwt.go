// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"crypto/rand"
	"errors"
	"fmt"
	"hash/crc32"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/golang-jwt/jwt/v4"
)

const (
	datadirJWTKey    = "jwtsecret"
	jwtSecretLength  = 32
	jwtExpiryTimeout = 60 * time.Second
)

var errInvalidJWTSecret = errors.New("invalid jwt secret")

// jwtHandler authenticates engine API requests with an HS256 bearer token
// whose issued-at claim is within jwtExpiryTimeout of the local clock.
type jwtHandler struct {
	keyFunc func(token *jwt.Token) (interface{}, error)
	next    http.Handler
}

func newJWTHandler(secret []byte, next http.Handler) http.Handler {
	return &jwtHandler{
		keyFunc: func(token *jwt.Token) (interface{}, error) {
			return secret, nil
		},
		next: next,
	}
}

// ServeHTTP implements http.Handler.
func (h *jwtHandler) ServeHTTP(out http.ResponseWriter, r *http.Request) {
	var (
		strToken string
		claims   jwt.RegisteredClaims
	)
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		strToken = strings.TrimPrefix(auth, "Bearer ")
	}
	if len(strToken) == 0 {
		http.Error(out, "missing token", http.StatusUnauthorized)
		return
	}
	// Only HS256 is accepted. Claim validation is done below so that
	// issued-at may drift in both directions.
	token, err := jwt.ParseWithClaims(strToken, &claims, h.keyFunc,
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithoutClaimsValidation())

	switch {
	case err != nil:
		http.Error(out, err.Error(), http.StatusUnauthorized)
	case !token.Valid:
		http.Error(out, "invalid token", http.StatusUnauthorized)
	case !claims.VerifyExpiresAt(time.Now(), false):
		http.Error(out, "token is expired", http.StatusUnauthorized)
	case claims.IssuedAt == nil:
		http.Error(out, "missing issued-at", http.StatusUnauthorized)
	case time.Since(claims.IssuedAt.Time) > jwtExpiryTimeout:
		http.Error(out, "stale token", http.StatusUnauthorized)
	case time.Until(claims.IssuedAt.Time) > jwtExpiryTimeout:
		http.Error(out, "future token", http.StatusUnauthorized)
	default:
		h.next.ServeHTTP(out, r)
	}
}

// obtainJWTSecret loads the hex encoded engine API secret from file, or from
// the data directory if file is empty. A missing secret is generated and
// persisted; without any location it only lives for this process.
func obtainJWTSecret(file, datadir string) ([]byte, error) {
	if file == "" && datadir != "" {
		file = filepath.Join(datadir, datadirJWTKey)
	}
	if file != "" {
		if data, err := os.ReadFile(file); err == nil {
			secret := common.FromHex(strings.TrimSpace(string(data)))
			if len(secret) != jwtSecretLength {
				return nil, fmt.Errorf("%w: %s holds %d bytes, want %d", errInvalidJWTSecret, file, len(secret), jwtSecretLength)
			}
			log.Info("Loaded JWT secret file", "path", file, "crc32", fmt.Sprintf("%#x", crc32.ChecksumIEEE(secret)))
			return secret, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	secret := make([]byte, jwtSecretLength)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	if file == "" {
		log.Warn("Using an ephemeral JWT secret, pass --authrpc.jwtsecret to share it with the consensus client")
		return secret, nil
	}
	if err := os.WriteFile(file, []byte(hexutil.Encode(secret)), 0600); err != nil {
		return nil, err
	}
	log.Info("Generated JWT secret", "path", file)
	return secret, nil
}
