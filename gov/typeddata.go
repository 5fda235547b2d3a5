package gov

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// DomainName is the EIP-712 domain name of the DAO logic contract.
const DomainName = "Nouns DAO"

const (
	proposalTypeString       = "Proposal(address proposer,address[] targets,uint256[] values,string[] signatures,bytes[] calldatas,string description,uint256 expiry)"
	updateProposalTypeString = "UpdateProposal(uint256 proposalId,address proposer,address[] targets,uint256[] values,string[] signatures,bytes[] calldatas,string description,uint256 expiry)"
)

var (
	// ProposalTypehash is keccak256 of the Proposal type string.
	ProposalTypehash = crypto.Keccak256Hash([]byte(proposalTypeString))
	// UpdateProposalTypehash is keccak256 of the UpdateProposal type string.
	UpdateProposalTypehash = crypto.Keccak256Hash([]byte(updateProposalTypeString))

	ErrInvalidSignature = errors.New("gov: invalid signature")
)

var (
	domainFields = []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	}
	proposalFields = []apitypes.Type{
		{Name: "proposer", Type: "address"},
		{Name: "targets", Type: "address[]"},
		{Name: "values", Type: "uint256[]"},
		{Name: "signatures", Type: "string[]"},
		{Name: "calldatas", Type: "bytes[]"},
		{Name: "description", Type: "string"},
		{Name: "expiry", Type: "uint256"},
	}
)

// Domain identifies the DAO deployment a signature is valid for.
type Domain struct {
	ChainID           *big.Int
	VerifyingContract common.Address
}

// SponsorPayload is the content a co-signer endorses. A positive
// ProposalIDToUpdate selects the UpdateProposal type.
type SponsorPayload struct {
	Proposer           common.Address
	ProposalIDToUpdate *big.Int
	Actions            Actions
	Description        string
	Expiry             *big.Int
}

// IsUpdate reports whether the payload sponsors an update to a live proposal.
func (p SponsorPayload) IsUpdate() bool {
	return p.ProposalIDToUpdate != nil && p.ProposalIDToUpdate.Sign() > 0
}

// TypedData builds the eth_signTypedData_v4 payload for p.
func TypedData(domain Domain, p SponsorPayload) apitypes.TypedData {
	targets, values, sigs, calldatas := p.Actions.Split()
	message := apitypes.TypedDataMessage{
		"proposer":    p.Proposer.Hex(),
		"targets":     hexAddresses(targets),
		"values":      decimalStrings(values),
		"signatures":  stringsToIface(sigs),
		"calldatas":   hexBytes(calldatas),
		"description": p.Description,
		"expiry":      bigOrZero(p.Expiry).String(),
	}
	primary := "Proposal"
	fields := proposalFields
	if p.IsUpdate() {
		primary = "UpdateProposal"
		fields = append([]apitypes.Type{{Name: "proposalId", Type: "uint256"}}, proposalFields...)
		message["proposalId"] = p.ProposalIDToUpdate.String()
	}
	chainID := bigOrZero(domain.ChainID)
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainFields,
			primary:        fields,
		},
		PrimaryType: primary,
		Domain: apitypes.TypedDataDomain{
			Name:              DomainName,
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
		Message: message,
	}
}

// Digest returns the EIP-712 signing hash of td.
func Digest(td apitypes.TypedData) (common.Hash, error) {
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("gov: hash domain: %w", err)
	}
	messageHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("gov: hash %s: %w", td.PrimaryType, err)
	}
	return crypto.Keccak256Hash([]byte("\x19\x01"), domainSeparator, messageHash), nil
}

var (
	addressType, _ = abi.NewType("address", "", nil)
	bytes32Type, _ = abi.NewType("bytes32", "", nil)
)

var encodedPropArgs = abi.Arguments{
	{Type: addressType},
	{Type: bytes32Type}, {Type: bytes32Type}, {Type: bytes32Type}, {Type: bytes32Type}, {Type: bytes32Type},
}

// EncodeProp returns the encodedProp bytes the data contract verifies in
// addSignature: abi.encode of the proposer and the hashed proposal arrays,
// prefixed by the 32-byte proposal id for updates.
func EncodeProp(p SponsorPayload) ([]byte, error) {
	targets, values, sigs, calldatas := p.Actions.Split()

	var targetsPacked, valuesPacked, sigHashes, calldataHashes []byte
	for _, t := range targets {
		targetsPacked = append(targetsPacked, common.LeftPadBytes(t.Bytes(), 32)...)
	}
	for _, v := range values {
		valuesPacked = append(valuesPacked, math.U256Bytes(v)...)
	}
	for _, s := range sigs {
		sigHashes = append(sigHashes, crypto.Keccak256([]byte(s))...)
	}
	for _, c := range calldatas {
		calldataHashes = append(calldataHashes, crypto.Keccak256(c)...)
	}

	encoded, err := encodedPropArgs.Pack(
		p.Proposer,
		crypto.Keccak256Hash(targetsPacked),
		crypto.Keccak256Hash(valuesPacked),
		crypto.Keccak256Hash(sigHashes),
		crypto.Keccak256Hash(calldataHashes),
		crypto.Keccak256Hash([]byte(p.Description)),
	)
	if err != nil {
		return nil, fmt.Errorf("gov: encode proposal: %w", err)
	}
	if p.IsUpdate() {
		encoded = append(math.U256Bytes(new(big.Int).Set(p.ProposalIDToUpdate)), encoded...)
	}
	return encoded, nil
}

// ContractDigest computes the signing hash the way the DAO contract does,
// from the domain separator and keccak256(typehash ++ encodedProp ++ expiry).
// It always agrees with Digest(TypedData(domain, p)).
func ContractDigest(domain Domain, p SponsorPayload) (common.Hash, error) {
	encodedProp, err := EncodeProp(p)
	if err != nil {
		return common.Hash{}, err
	}
	typehash := ProposalTypehash
	if p.IsUpdate() {
		typehash = UpdateProposalTypehash
	}
	structHash := crypto.Keccak256(typehash.Bytes(), encodedProp, math.U256Bytes(bigOrZero(p.Expiry)))
	return crypto.Keccak256Hash([]byte("\x19\x01"), DomainSeparator(domain).Bytes(), structHash), nil
}

// DomainSeparator is keccak256(abi.encode(domainTypehash, keccak(name), chainId, verifyingContract)).
func DomainSeparator(domain Domain) common.Hash {
	typehash := crypto.Keccak256([]byte("EIP712Domain(string name,uint256 chainId,address verifyingContract)"))
	return crypto.Keccak256Hash(
		typehash,
		crypto.Keccak256([]byte(DomainName)),
		math.U256Bytes(bigOrZero(domain.ChainID)),
		common.LeftPadBytes(domain.VerifyingContract.Bytes(), 32),
	)
}

// RecoverSigner returns the address that produced sig over digest. Both the
// 27/28 and 0/1 recovery id conventions are accepted.
func RecoverSigner(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}
	normalized := common.CopyBytes(sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func hexAddresses(in []common.Address) []interface{} {
	out := make([]interface{}, len(in))
	for i, a := range in {
		out[i] = a.Hex()
	}
	return out
}

func decimalStrings(in []*big.Int) []interface{} {
	out := make([]interface{}, len(in))
	for i, v := range in {
		out[i] = v.String()
	}
	return out
}

func stringsToIface(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func hexBytes(in [][]byte) []interface{} {
	out := make([]interface{}, len(in))
	for i, b := range in {
		out[i] = hexutil.Encode(b)
	}
	return out
}
