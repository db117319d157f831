/*
Copyright 2026, OpenTeams.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package keycloaktest provides an in-memory Keycloak admin API for tests.
package keycloaktest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/Nerzal/gocloak/v13"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nebari-dev/oauth2client-operator/internal/keycloak"
)

// Mutation records a state-changing call made against the server.
type Mutation struct {
	Method string
	Realm  string
	Target string
}

// Server is an in-memory implementation of keycloak.API.
// Clients are keyed by realm and internal id; protocol mappers live on their client.
type Server struct {
	// TokenTTL is the lifetime of tokens issued by LoginAdmin. Defaults to 5 minutes.
	TokenTTL time.Duration

	// Now is the clock used to stamp issued tokens. Defaults to time.Now.
	Now func() time.Time

	// BeforeCall, when set, runs before every API method without the server lock
	// held, so it may call Seed or Remove to simulate concurrent writers.
	BeforeCall func(method string)

	mu        sync.Mutex
	realms    map[string]bool
	clients   map[string]map[string]*gocloak.Client
	failures  map[string][]error
	mutations []Mutation
	calls     []string
	logins    int
}

var _ keycloak.API = (*Server)(nil)

// NewServer returns a server hosting the given realms.
func NewServer(realms ...string) *Server {
	s := &Server{
		realms:   map[string]bool{},
		clients:  map[string]map[string]*gocloak.Client{},
		failures: map[string][]error{},
	}
	for _, realm := range realms {
		s.AddRealm(realm)
	}
	return s
}

// API returns a constructor usable as keycloak.Connector.NewAPI.
func (s *Server) API() func(string) keycloak.API {
	return func(string) keycloak.API { return s }
}

// AddRealm creates an empty realm.
func (s *Server) AddRealm(realm string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.realms[realm] = true
	if s.clients[realm] == nil {
		s.clients[realm] = map[string]*gocloak.Client{}
	}
}

// Seed stores a client directly, bypassing conflict checks and mutation tracking,
// and returns its internal id.
func (s *Server) Seed(realm string, c gocloak.Client) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	if c.ID != nil {
		id = *c.ID
	}
	c.ID = gocloak.StringP(id)
	if s.clients[realm] == nil {
		s.clients[realm] = map[string]*gocloak.Client{}
	}
	s.clients[realm][id] = cloneClient(&c)
	return id
}

// Remove deletes a client directly, simulating an out-of-band deletion.
func (s *Server) Remove(realm, idOfClient string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients[realm], idOfClient)
}

// FailNext makes the next call to method return err. Calls queue up in order.
func (s *Server) FailNext(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = append(s.failures[method], err)
}

// Mutations returns the state-changing calls made so far.
func (s *Server) Mutations() []Mutation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Mutation(nil), s.mutations...)
}

// ResetMutations clears the mutation log.
func (s *Server) ResetMutations() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mutations = nil
}

// Calls returns every method invoked so far, in order.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Logins returns how many times LoginAdmin succeeded.
func (s *Server) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

// Clients returns copies of every client in realm, sorted by client id.
func (s *Server) Clients(realm string) []gocloak.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []gocloak.Client
	for _, c := range s.clients[realm] {
		out = append(out, *cloneClient(c))
	}
	sort.Slice(out, func(i, j int) bool {
		return gocloak.PString(out[i].ClientID) < gocloak.PString(out[j].ClientID)
	})
	return out
}

// FindClient returns a copy of the client with the given client id, or nil.
func (s *Server) FindClient(realm, clientID string) *gocloak.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.byClientID(realm, clientID); c != nil {
		return cloneClient(c)
	}
	return nil
}

// Mappers returns the protocol mappers of the client with the given client id.
func (s *Server) Mappers(realm, clientID string) []gocloak.ProtocolMapperRepresentation {
	c := s.FindClient(realm, clientID)
	if c == nil || c.ProtocolMappers == nil {
		return nil
	}
	return *c.ProtocolMappers
}

// NotFound builds the error Keycloak returns for a missing resource.
func NotFound(msg string) error {
	return &gocloak.APIError{Code: http.StatusNotFound, Message: msg}
}

// Conflict builds the error Keycloak returns for a duplicate resource.
func Conflict(msg string) error {
	return &gocloak.APIError{Code: http.StatusConflict, Message: msg}
}

// Unavailable builds a transient server error.
func Unavailable(msg string) error {
	return &gocloak.APIError{Code: http.StatusServiceUnavailable, Message: msg}
}

func (s *Server) LoginAdmin(ctx context.Context, username, password, realm string) (*gocloak.JWT, error) {
	s.before("LoginAdmin")
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("LoginAdmin"); err != nil {
		return nil, err
	}

	ttl := s.TokenTTL
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	claims := jwt.RegisteredClaims{
		Subject:   username,
		Issuer:    realm,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("keycloaktest"))
	if err != nil {
		return nil, err
	}
	s.logins++
	return &gocloak.JWT{AccessToken: signed, ExpiresIn: int(ttl.Seconds()), TokenType: "Bearer"}, nil
}

func (s *Server) GetRealm(ctx context.Context, token, realm string) (*gocloak.RealmRepresentation, error) {
	s.before("GetRealm")
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetRealm"); err != nil {
		return nil, err
	}
	if !s.realms[realm] {
		return nil, NotFound("Realm not found.")
	}
	return &gocloak.RealmRepresentation{Realm: gocloak.StringP(realm), Enabled: gocloak.BoolP(true)}, nil
}

func (s *Server) GetClients(ctx context.Context, token, realm string, params gocloak.GetClientsParams) ([]*gocloak.Client, error) {
	s.before("GetClients")
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetClients"); err != nil {
		return nil, err
	}
	if !s.realms[realm] {
		return nil, NotFound("Realm not found.")
	}
	var out []*gocloak.Client
	for _, c := range s.clients[realm] {
		if params.ClientID != nil && gocloak.PString(c.ClientID) != *params.ClientID {
			continue
		}
		out = append(out, cloneClient(c))
	}
	return out, nil
}

func (s *Server) GetClient(ctx context.Context, token, realm, idOfClient string) (*gocloak.Client, error) {
	s.before("GetClient")
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetClient"); err != nil {
		return nil, err
	}
	c, ok := s.clients[realm][idOfClient]
	if !ok {
		return nil, NotFound("Could not find client")
	}
	return cloneClient(c), nil
}

func (s *Server) GetClientSecret(ctx context.Context, token, realm, idOfClient string) (*gocloak.CredentialRepresentation, error) {
	s.before("GetClientSecret")
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetClientSecret"); err != nil {
		return nil, err
	}
	c, ok := s.clients[realm][idOfClient]
	if !ok {
		return nil, NotFound("Could not find client")
	}
	return &gocloak.CredentialRepresentation{
		Type:  gocloak.StringP("secret"),
		Value: gocloak.StringP(gocloak.PString(c.Secret)),
	}, nil
}

func (s *Server) CreateClient(ctx context.Context, accessToken, realm string, newClient gocloak.Client) (string, error) {
	s.before("CreateClient")
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CreateClient"); err != nil {
		return "", err
	}
	if !s.realms[realm] {
		return "", NotFound("Realm not found.")
	}
	clientID := gocloak.PString(newClient.ClientID)
	if s.byClientID(realm, clientID) != nil {
		return "", Conflict(fmt.Sprintf("Client %s already exists", clientID))
	}
	id := uuid.NewString()
	newClient.ID = gocloak.StringP(id)
	s.clients[realm][id] = cloneClient(&newClient)
	s.record("CreateClient", realm, clientID)
	return id, nil
}

func (s *Server) UpdateClient(ctx context.Context, accessToken, realm string, updatedClient gocloak.Client) error {
	s.before("UpdateClient")
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UpdateClient"); err != nil {
		return err
	}
	id := gocloak.PString(updatedClient.ID)
	existing, ok := s.clients[realm][id]
	if !ok {
		return NotFound("Could not find client")
	}
	// Keycloak keeps mappers when a representation without them is PUT.
	if updatedClient.ProtocolMappers == nil {
		updatedClient.ProtocolMappers = existing.ProtocolMappers
	}
	s.clients[realm][id] = cloneClient(&updatedClient)
	s.record("UpdateClient", realm, gocloak.PString(updatedClient.ClientID))
	return nil
}

func (s *Server) DeleteClient(ctx context.Context, accessToken, realm, idOfClient string) error {
	s.before("DeleteClient")
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("DeleteClient"); err != nil {
		return err
	}
	c, ok := s.clients[realm][idOfClient]
	if !ok {
		return NotFound("Could not find client")
	}
	delete(s.clients[realm], idOfClient)
	s.record("DeleteClient", realm, gocloak.PString(c.ClientID))
	return nil
}

func (s *Server) CreateClientProtocolMapper(ctx context.Context, token, realm, idOfClient string, mapper gocloak.ProtocolMapperRepresentation) (string, error) {
	s.before("CreateClientProtocolMapper")
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CreateClientProtocolMapper"); err != nil {
		return "", err
	}
	c, ok := s.clients[realm][idOfClient]
	if !ok {
		return "", NotFound("Could not find client")
	}
	var mappers []gocloak.ProtocolMapperRepresentation
	if c.ProtocolMappers != nil {
		mappers = *c.ProtocolMappers
	}
	name := gocloak.PString(mapper.Name)
	for _, m := range mappers {
		if gocloak.PString(m.Name) == name {
			return "", Conflict(fmt.Sprintf("Protocol mapper exists with same name: %s", name))
		}
	}
	id := uuid.NewString()
	mapper.ID = gocloak.StringP(id)
	mappers = append(mappers, mapper)
	c.ProtocolMappers = &mappers
	s.record("CreateClientProtocolMapper", realm, name)
	return id, nil
}

func (s *Server) UpdateClientProtocolMapper(ctx context.Context, token, realm, idOfClient, mapperID string, mapper gocloak.ProtocolMapperRepresentation) error {
	s.before("UpdateClientProtocolMapper")
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UpdateClientProtocolMapper"); err != nil {
		return err
	}
	c, ok := s.clients[realm][idOfClient]
	if !ok || c.ProtocolMappers == nil {
		return NotFound("Could not find client")
	}
	mappers := *c.ProtocolMappers
	for i := range mappers {
		if gocloak.PString(mappers[i].ID) == mapperID {
			mapper.ID = gocloak.StringP(mapperID)
			mappers[i] = mapper
			s.record("UpdateClientProtocolMapper", realm, gocloak.PString(mapper.Name))
			return nil
		}
	}
	return NotFound("Model not found")
}

func (s *Server) DeleteClientProtocolMapper(ctx context.Context, token, realm, idOfClient, mapperID string) error {
	s.before("DeleteClientProtocolMapper")
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("DeleteClientProtocolMapper"); err != nil {
		return err
	}
	c, ok := s.clients[realm][idOfClient]
	if !ok || c.ProtocolMappers == nil {
		return NotFound("Could not find client")
	}
	mappers := *c.ProtocolMappers
	for i := range mappers {
		if gocloak.PString(mappers[i].ID) == mapperID {
			name := gocloak.PString(mappers[i].Name)
			mappers = append(mappers[:i], mappers[i+1:]...)
			c.ProtocolMappers = &mappers
			s.record("DeleteClientProtocolMapper", realm, name)
			return nil
		}
	}
	return NotFound("Model not found")
}

func (s *Server) before(method string) {
	if s.BeforeCall != nil {
		s.BeforeCall(method)
	}
}

// enter records the call and pops a queued failure. Callers hold s.mu.
func (s *Server) enter(method string) error {
	s.calls = append(s.calls, method)
	queued := s.failures[method]
	if len(queued) == 0 {
		return nil
	}
	s.failures[method] = queued[1:]
	return queued[0]
}

func (s *Server) record(method, realm, target string) {
	s.mutations = append(s.mutations, Mutation{Method: method, Realm: realm, Target: target})
}

func (s *Server) byClientID(realm, clientID string) *gocloak.Client {
	for _, c := range s.clients[realm] {
		if gocloak.PString(c.ClientID) == clientID {
			return c
		}
	}
	return nil
}

func cloneClient(c *gocloak.Client) *gocloak.Client {
	raw, err := json.Marshal(c)
	if err != nil {
		panic(err)
	}
	out := &gocloak.Client{}
	if err := json.Unmarshal(raw, out); err != nil {
		panic(err)
	}
	return out
}
