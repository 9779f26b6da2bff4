package permissions

import "math/big"

// Permission bit positions of the character contract. Bits 0-20 require the
// owner's signature, bits 176 and up may be exercised by an operator.
var permissionBits = map[int]string{
	0:   "SET_HANDLE",
	1:   "SET_SOCIAL_TOKEN",
	2:   "GRANT_OPERATOR_PERMISSIONS",
	3:   "GRANT_OPERATORS_FOR_NOTE",
	176: "SET_CHARACTER_URI",
	177: "SET_LINKLIST_URI",
	178: "LINK_CHARACTER",
	179: "UNLINK_CHARACTER",
	180: "CREATE_THEN_LINK_CHARACTER",
	181: "LINK_NOTE",
	182: "UNLINK_NOTE",
	183: "LINK_ERC721",
	184: "UNLINK_ERC721",
	185: "LINK_ADDRESS",
	186: "UNLINK_ADDRESS",
	187: "LINK_ANY_URI",
	188: "UNLINK_ANY_URI",
	189: "LINK_LINKLIST",
	190: "UNLINK_LINKLIST",
	191: "SET_LINK_MODULE_FOR_CHARACTER",
	192: "SET_LINK_MODULE_FOR_NOTE",
	193: "SET_LINK_MODULE_FOR_LINKLIST",
	194: "SET_MINT_MODULE_FOR_NOTE",
	195: "SET_NOTE_URI",
	196: "LOCK_NOTE",
	197: "DELETE_NOTE",
	198: "POST_NOTE_FOR_CHARACTER",
	199: "POST_NOTE_FOR_ADDRESS",
	200: "POST_NOTE_FOR_LINKLIST",
	201: "POST_NOTE_FOR_NOTE",
	202: "POST_NOTE_FOR_ERC721",
	203: "POST_NOTE_FOR_ANY_URI",
	236: "POST_NOTE",
}

// DecodeBitmap is the default Decoder: it maps each set bit of the uint256
// bitmap to its permission name, skipping unknown bits.
func DecodeBitmap(bitmap *big.Int) []string {
	if bitmap == nil {
		return nil
	}

	var set []string
	for bit := 0; bit < 256; bit++ {
		if bitmap.Bit(bit) == 0 {
			continue
		}
		if name, ok := permissionBits[bit]; ok {
			set = append(set, name)
		}
	}
	return set
}
