// Package pase implements passcode-authenticated session establishment
// between a commissioner (initiator) and a commissionee (responder).
//
//	Initiator                              Responder
//	PBKDFParamRequest        ------>
//	                         <------       PBKDFParamResponse
//	Pake1 (pA)               ------>
//	                         <------       Pake2 (pB, cB)
//	Pake3 (cA)               ------>
//	                         <------       StatusReport
//
// Both sides derive w0 and w1 with PBKDF2-SHA256 over the setup PIN; the
// responder only holds the verifier (w0, L = w1*G). SPAKE2+ runs on P-256.
package pase
