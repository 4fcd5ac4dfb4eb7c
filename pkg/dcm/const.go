package dcm

const (
	// SOP classes
	EncapsulatedPDFStorage       = "1.2.840.10008.5.1.4.1.1.104.1"
	SecondaryCaptureImageStorage = "1.2.840.10008.5.1.4.1.1.7"

	// transfer syntaxes
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"

	// identity of instances authored by this agent
	implementationClassUID = "1.2.826.0.1.3680043.10.1457.1"
	implementationVersion  = "PACSAGENT_10"

	// vendor tag value accepted by the downstream PACS for 3D instances
	RomexisImplementationVersion = "ROMEXIS_10"

	dateFormat = "20060102"
	timeFormat = "150405"
)
