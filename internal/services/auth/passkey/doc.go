// Package passkey implements WebAuthn registration and login ceremonies.
//
// Challenge state travels in a signed cookie held by the browser instead of
// a server-side row, and credential counters advance through a conditional
// store write so cloned authenticators fail closed.
package passkey
