package narrative

const standardTemplate = `SUSPICIOUS ACTIVITY REPORT - NARRATIVE

Subject: {{.Customer.Name}} (ID: {{.Customer.CustomerID}})
Account: {{.Customer.AccountNumber}}
Period: {{.PeriodStart}} to {{.PeriodEnd}}
Suspected typology: {{.Typology}} ({{.TypologyDescription}})

SUMMARY OF SUSPICIOUS ACTIVITY:
The subject engaged in a pattern of transactions consistent with potential money laundering activity. Automated monitoring systems flagged activity that deviates significantly from the account's historical baseline.

DETAILED DESCRIPTION:
Over a {{.SpanDays}}-day period, the subject conducted {{.Count}} transactions totaling {{money .Total}}. Analysis reveals:

{{range .Reasons}}- {{.Text}}{{.Citation}}
{{end}}
The subject's account activity in the last 7 days ran at {{.VelocityMultiplier}}x the account's prior weekly average.

CUSTOMER DUE DILIGENCE:
Customer onboarded on {{.Customer.OnboardedDate}}. Stated occupation: {{.Customer.Occupation}}. Expected account activity: Low-to-moderate retail trading. Actual activity significantly exceeds stated profile.

CONCLUSION:
Based on the above factors, this activity is being reported as suspicious and potentially indicative of money laundering or structuring to evade reporting requirements.
`

const discoveryTemplate = `SUSPICIOUS ACTIVITY REPORT - NARRATIVE

Subject: {{.Customer.Name}} (ID: {{.Customer.CustomerID}})
Account: {{.Customer.AccountNumber}}
Period: {{.PeriodStart}} to {{.PeriodEnd}}
Suspected typology: {{.Typology}} ({{.TypologyDescription}})

NEW TYPOLOGY DETECTED - UNKNOWN PATTERN

SUMMARY OF SUSPICIOUS ACTIVITY:
The subject engaged in a previously unobserved transaction pattern that does not match existing rule-based detection scenarios. Anomaly detection flagged this activity as high-risk based on behavioral deviation and network correlation analysis.

PATTERN DISCOVERY EXPLANATION:
This case represents a NEW TYPOLOGY not previously documented in our transaction monitoring rules. While traditional structuring and rapid-movement patterns score moderately, the combination of micro-transaction fragmentation, timing anomalies, and network linkages suggests a novel evasion technique.

DETAILED DESCRIPTION:
Over a {{.SpanDays}}-day period, the subject conducted {{.Count}} transactions averaging {{money .Average}} each, totaling {{money .Total}}.{{.FragmentationCite}}

Key anomalies identified:
{{range .Reasons}}- {{.Text}}{{.Citation}}
{{end}}
NETWORK ANALYSIS:
Cross-account correlation analysis identified accounts sharing identical device fingerprints and exhibiting synchronized transaction timing.{{.NetworkCite}} This suggests coordinated activity potentially designed to evade aggregate reporting thresholds.

CUSTOMER DUE DILIGENCE:
Customer onboarded on {{.Customer.OnboardedDate}}. Stated occupation: {{.Customer.Occupation}}. Expected account activity: Low-to-moderate retail trading. Current activity represents a fundamental departure from stated profile and historical behavior.

CONCLUSION:
This activity is being reported as suspicious due to the novel pattern structure, significant behavioral deviation, and network correlation indicators. The pattern does not match existing typologies and may represent an emerging money laundering technique requiring regulatory attention and potential rule enhancement.
`
