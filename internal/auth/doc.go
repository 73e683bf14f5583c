// Package auth provides account management, Argon2id password hashing
// and JWT access tokens for the Fieldline API.
//
// Authentication is stateless: access tokens carry the user ID and
// role as signed claims and are validated by signature alone. There
// is no session store; revocation is handled by short token TTLs.
package auth
