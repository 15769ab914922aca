package domain

import "strings"

// Partition identifies one independently indexed slice of the statute corpus.
type Partition string

const (
	PartitionNationalTaxFramework            Partition = "national-tax-framework-act"
	PartitionIncomeTax                       Partition = "income-tax-act"
	PartitionCorporateTax                    Partition = "corporate-tax-act"
	PartitionInheritanceGiftTax              Partition = "inheritance-gift-tax-act"
	PartitionComprehensiveRealEstateTax      Partition = "comprehensive-real-estate-tax-act"
	PartitionValueAddedTax                   Partition = "value-added-tax-act"
	PartitionIndividualConsumptionTax        Partition = "individual-consumption-tax-act"
	PartitionTransportEnergyEnvironmentTax   Partition = "transportation-energy-environment-tax-act"
	PartitionLiquorTax                       Partition = "liquor-tax-act"
	PartitionSecuritiesTransactionTax        Partition = "securities-transaction-tax-act"
	PartitionLocalTax                        Partition = "local-tax-act"
	PartitionLocalTaxFramework               Partition = "local-tax-framework-act"
	PartitionLocalTaxCollection              Partition = "local-tax-collection-act"
	PartitionCorporationPublicCooperation    Partition = "corporation_public_cooperation"
	PartitionCorporationValueAddedTax        Partition = "corporation_value-added-tax-act"
	PartitionCorporationWithholdingTax       Partition = "corporation_withholding-tax"
	PartitionCorporationNationalTaxFramework Partition = "corporation_national-tax-framework-act"
	PartitionCorporationRealEstateTax        Partition = "corporation_comprehensive-real-estate-tax-act"
)

// MaxRoutedPartitions bounds how many partitions a single question is routed to.
const MaxRoutedPartitions = 2

var partitions = []Partition{
	PartitionNationalTaxFramework,
	PartitionIncomeTax,
	PartitionCorporateTax,
	PartitionInheritanceGiftTax,
	PartitionComprehensiveRealEstateTax,
	PartitionValueAddedTax,
	PartitionIndividualConsumptionTax,
	PartitionTransportEnergyEnvironmentTax,
	PartitionLiquorTax,
	PartitionSecuritiesTransactionTax,
	PartitionLocalTax,
	PartitionLocalTaxFramework,
	PartitionLocalTaxCollection,
	PartitionCorporationPublicCooperation,
	PartitionCorporationValueAddedTax,
	PartitionCorporationWithholdingTax,
	PartitionCorporationNationalTaxFramework,
	PartitionCorporationRealEstateTax,
}

// Partitions returns the closed enumeration in declaration order.
func Partitions() []Partition {
	out := make([]Partition, len(partitions))
	copy(out, partitions)
	return out
}

func ParsePartition(raw string) (Partition, bool) {
	candidate := Partition(strings.TrimSpace(raw))
	if candidate.Valid() {
		return candidate, true
	}
	return "", false
}

func (p Partition) Valid() bool {
	for _, known := range partitions {
		if p == known {
			return true
		}
	}
	return false
}

func (p Partition) String() string {
	return string(p)
}
