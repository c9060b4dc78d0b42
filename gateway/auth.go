// Copyright 2024-2025 The pulseboard Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"context"

	"github.com/apex/log"
)

// AuthVerifier external collaborator answering whether a handshake
// token is authorized. Token issuance lives outside this service.
type AuthVerifier interface {
	Verify(token string, ctxt context.Context) (bool, error)
}

// staticTokenVerifier implements AuthVerifier against a fixed allow list
type staticTokenVerifier struct {
	allowed map[string]bool
}

// GetStaticTokenVerifier define an AuthVerifier matching a static token
// list. With an empty list any non-empty token is accepted; meant for
// deployments where a fronting proxy already authenticated the caller.
func GetStaticTokenVerifier(tokens []string) (AuthVerifier, error) {
	allowed := make(map[string]bool)
	for _, token := range tokens {
		allowed[token] = true
	}
	if len(allowed) == 0 {
		log.WithFields(log.Fields{
			"module": "gateway", "component": "auth-verifier",
		}).Warn("No allowed tokens configured. Accepting any non-empty token")
	}
	return &staticTokenVerifier{allowed: allowed}, nil
}

// Verify whether the token is authorized
func (v *staticTokenVerifier) Verify(token string, ctxt context.Context) (bool, error) {
	if err := ctxt.Err(); err != nil {
		return false, err
	}
	if token == "" {
		return false, nil
	}
	if len(v.allowed) == 0 {
		return true, nil
	}
	return v.allowed[token], nil
}
