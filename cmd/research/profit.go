package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/maltedev/product-research/internal/models"
)

func newProfitCmd(a *app) *cobra.Command {
	var p models.Product

	cmd := &cobra.Command{
		Use:   "profit",
		Short: "Estimate shipping cost and profit for one product",
		RunE: func(cmd *cobra.Command, args []string) error {
			if problems := p.Validate(); len(problems) > 0 {
				return fmt.Errorf("invalid product: %v", problems)
			}

			calc, err := a.calculator()
			if err != nil {
				return err
			}

			result, err := calc.Calculate(p)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	f := cmd.Flags()
	f.StringVar(&p.SKU, "sku", "", "product SKU")
	f.Float64Var(&p.WeightKg, "weight", 0, "package weight in kg")
	f.Float64Var(&p.PriceRub, "price", 0, "selling price in RUB")
	f.Float64Var(&p.PurchaseCost, "purchase", 0, "purchase cost in CNY")
	f.Float64Var(&p.Dimensions.LengthCM, "length", 0, "package length in cm")
	f.Float64Var(&p.Dimensions.WidthCM, "width", 0, "package width in cm")
	f.Float64Var(&p.Dimensions.HeightCM, "height", 0, "package height in cm")
	_ = cmd.MarkFlagRequired("weight")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

func newChannelsCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "channels",
		Short: "List the shipping channels parsed from the rate workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			calc, err := a.calculator()
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(calc.Channels)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tCHANNEL\tLEVEL\tBASE\tRATE\tMAX KG\tMAX RUB\tMAX SUM CM\tMAX SIDE CM\tDAYS")
			for _, ch := range calc.Channels {
				fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%.4f/%s\t%s\t%s\t%s\t%s\t%s\n",
					ch.Provider, ch.Name, ch.ServiceLevel, ch.BaseFee, ch.WeightFee, ch.WeightUnit,
					limit(ch.MaxWeightKg), limit(ch.MaxValueRub), limit(ch.MaxDimensions), limit(ch.MaxSingleSide),
					ch.DeliveryDays)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if len(calc.Channels) == 0 {
				fmt.Fprintln(os.Stderr, "no channels found; check the workbook header row")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func limit(v float64) string {
	if v <= 0 {
		return "-"
	}
	return fmt.Sprintf("%g", v)
}
