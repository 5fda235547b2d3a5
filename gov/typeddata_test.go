package gov

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

var testDomain = Domain{
	ChainID:           big.NewInt(1),
	VerifyingContract: common.HexToAddress("0x6f3E6272A167e8AcCb32072d08E0957F9c79223d"),
}

func samplePayload() SponsorPayload {
	return SponsorPayload{
		Proposer: common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Actions: Actions{
			{Target: common.HexToAddress("0x0000000000000000000000000000000000000b0b"), Value: big.NewInt(1_000_000_000_000_000_000), Signature: "", Calldata: []byte{}},
			{Target: common.HexToAddress("0x9C8fF314C9Bc7F6e59A9d9225Fb22946427eDC03"), Value: nil, Signature: "transfer(address,uint256)", Calldata: common.FromHex("0x000000000000000000000000000000000000000000000000000000000000000100000000000000000000000000000000000000000000000000000000000003e8")},
		},
		Description: "# Fund X\n\nbody",
		Expiry:      big.NewInt(1_900_000_000),
	}
}

func TestDigestMatchesContractEncoding(t *testing.T) {
	p := samplePayload()
	td := TypedData(testDomain, p)
	require.Equal(t, "Proposal", td.PrimaryType)

	viaTypedData, err := Digest(td)
	require.NoError(t, err)
	viaContract, err := ContractDigest(testDomain, p)
	require.NoError(t, err)
	require.Equal(t, viaContract, viaTypedData)
}

func TestUpdateDigestMatchesContractEncoding(t *testing.T) {
	p := samplePayload()
	p.ProposalIDToUpdate = big.NewInt(512)
	td := TypedData(testDomain, p)
	require.Equal(t, "UpdateProposal", td.PrimaryType)
	require.Equal(t, "proposalId", td.Types["UpdateProposal"][0].Name)

	viaTypedData, err := Digest(td)
	require.NoError(t, err)
	viaContract, err := ContractDigest(testDomain, p)
	require.NoError(t, err)
	require.Equal(t, viaContract, viaTypedData)

	plain, err := ContractDigest(testDomain, samplePayload())
	require.NoError(t, err)
	require.NotEqual(t, plain, viaContract)
}

func TestDigestIsBoundToDomain(t *testing.T) {
	p := samplePayload()
	a, err := ContractDigest(testDomain, p)
	require.NoError(t, err)
	other := testDomain
	other.ChainID = big.NewInt(11155111)
	b, err := ContractDigest(other, p)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestEncodePropLayout(t *testing.T) {
	p := samplePayload()
	encoded, err := EncodeProp(p)
	require.NoError(t, err)
	require.Len(t, encoded, 6*32)
	require.Equal(t, common.LeftPadBytes(p.Proposer.Bytes(), 32), encoded[:32])
	require.Equal(t, crypto.Keccak256([]byte(p.Description)), encoded[5*32:])

	p.ProposalIDToUpdate = big.NewInt(7)
	update, err := EncodeProp(p)
	require.NoError(t, err)
	require.Len(t, update, 7*32)
	require.Equal(t, common.LeftPadBytes([]byte{7}, 32), update[:32])
	require.Equal(t, encoded, update[32:])
}

func TestRecoverSignerAcceptsBothRecoveryConventions(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.PubkeyToAddress(key.PublicKey)

	digest, err := Digest(TypedData(testDomain, samplePayload()))
	require.NoError(t, err)
	sig, err := crypto.Sign(digest.Bytes(), key)
	require.NoError(t, err)

	got, err := RecoverSigner(digest, sig)
	require.NoError(t, err)
	require.Equal(t, signer, got)

	walletStyle := common.CopyBytes(sig)
	walletStyle[64] += 27
	got, err = RecoverSigner(digest, walletStyle)
	require.NoError(t, err)
	require.Equal(t, signer, got)

	_, err = RecoverSigner(digest, sig[:64])
	require.ErrorIs(t, err, ErrInvalidSignature)
}
