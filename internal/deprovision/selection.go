package deprovision

// DirectoryActions are the on-premises account actions.
type DirectoryActions struct {
	Enabled       bool `json:"enabled"`
	Disable       bool `json:"disable"`
	Expire        bool `json:"expire"`
	ResetPassword bool `json:"reset_password"`
}

// CloudActions are the Microsoft 365 account actions.
type CloudActions struct {
	Enabled        bool `json:"enabled"`
	Disable        bool `json:"disable"`
	RevokeSessions bool `json:"revoke_sessions"`
}

// MFAActions control removal of registered authentication methods.
type MFAActions struct {
	Enabled       bool `json:"enabled"`
	RemoveMethods bool `json:"remove_methods"`
}

// OrgActions are organizational changes in the directory.
type OrgActions struct {
	Enabled          bool `json:"enabled"`
	MoveToTerminated bool `json:"move_to_terminated"`
}

// Selection is the set of actions requested for one run. A family's Enabled
// flag gates the user lookup it needs; the remaining flags gate individual
// operations within that family.
type Selection struct {
	Directory DirectoryActions `json:"directory"`
	Cloud     CloudActions     `json:"cloud"`
	MFA       MFAActions       `json:"mfa"`
	Org       OrgActions       `json:"org"`
}

// NeedsDirectory reports whether the run must connect to the directory.
func (s Selection) NeedsDirectory() bool {
	return s.Directory.Enabled || s.Org.Enabled
}

// NeedsCloud reports whether the run must look the user up in Microsoft 365.
func (s Selection) NeedsCloud() bool {
	return s.Cloud.Enabled || s.MFA.Enabled
}

func (s Selection) wantsDirectoryReset() bool {
	return s.Directory.Enabled && s.Directory.ResetPassword
}
