// Package cert provides the X.509 primitives of a fabric PKI: root and
// intermediate authorities, node operational certificates (NOCs) carrying
// node and fabric ids in their subject, CSR parsing, chain verification,
// PEM helpers, and sealed at-rest storage of authority keys.
package cert
