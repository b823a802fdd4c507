// Package jwt implementa el formato compacto de los scan tokens (header.payload.firma,
// base64url, EdDSA/Ed25519) y el ciclo de vida de las claves de firma.
//
// Un solo tipo de token ("member") con header typ "LPQR". No es una librería JWT genérica:
// la validación de ventanas temporales la hacen attendance y offline, no el codec.
package jwt
