// Package auth provides authentication for mission-control.
//
// # Authentication Methods
//
//   - JWT Tokens: operators call the HTTP API with an HS256 bearer token whose
//     "sub" claim is a user ID. Tokens are signed with the configured jwt_secret.
//
//   - Agent Tokens: each provisioning run issues a random token to the agent on
//     its gateway. Only the PBKDF2 hash is stored on the agent record.
//
// # Auth Context
//
// HTTPAuthMiddleware resolves the user and attaches an AuthContext carrying the
// user's organization. Handlers scope every gateway and board lookup to that
// organization. Background jobs use SystemContext instead, which has no user.
//
//	authCtx := auth.MustFromContext(r.Context())
//	gw, err := store.GetGateway(ctx, id, authCtx.OrganizationID)
package auth
